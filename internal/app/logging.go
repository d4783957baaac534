package app

import (
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"
)

var logger = log.New("mdocholder/app")

// SetLogLevel applies level to every mdocholder logger. An empty level
// leaves the current one in place.
func SetLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level '%s' : %w", level, err)
	}
	log.SetLevel("", lvl)
	logger.Debugf("logger level set to %s", level)
	return nil
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return log.IsEnabledFor("", spilog.DEBUG)
}
