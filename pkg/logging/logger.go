package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	Log  *logrus.Logger
	once sync.Once
)

func InitLogger(debug bool) {
	Log = logrus.New()
	Log.Out = os.Stdout

	if debug {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Get returns the global logger, creating an info-level one on first use
// when InitLogger was never called.
func Get() *logrus.Logger {
	once.Do(func() {
		if Log == nil {
			InitLogger(false)
		}
	})
	return Log
}
