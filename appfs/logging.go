package appfs

import "github.com/sirupsen/logrus"

// logger carries the package's debug output. By default it writes through
// the standard logrus logger; tools that want the core's free-list and
// hardlink tracing visible route it with SetLogger.
var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used by the package.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}
