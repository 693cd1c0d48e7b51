package unittest

import (
	"flag"
	"io/ioutil"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var verbose = flag.Bool("vv", false, "print debugging logs")

// Logger returns a zerolog logger for tests. By default all output is
// discarded; run tests with -vv to stream debug logs to stderr.
func Logger() zerolog.Logger {
	writer := ioutil.Discard

	if *verbose {
		writer = os.Stderr
	}
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return log
}
