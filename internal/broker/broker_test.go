package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_UnreachableAddrFails(t *testing.T) {
	_, err := New("127.0.0.1:1") // nothing listens on this port
	require.Error(t, err)
}

func TestLockKey_NamingConvention(t *testing.T) {
	require.Equal(t, "lock:extraction:report.pdf", LockKey("lock:", "report.pdf"))
}
