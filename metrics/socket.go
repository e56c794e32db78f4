package metrics

import (
	"net"

	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
)

// LogSocketDiagnostics records the OS file descriptor backing conn, so a
// stuck transfer can be cross-referenced against /proc/<pid>/fd or ss(8)
// output during incident response.
func LogSocketDiagnostics(conn *net.UDPConn, log logrus.FieldLogger) {
	if conn == nil || log == nil {
		return
	}
	fd := netfd.GetFdFromConn(conn)
	log.WithFields(logrus.Fields{
		"fd":         fd,
		"local_addr": conn.LocalAddr(),
	}).Debug("socket descriptor")
}
