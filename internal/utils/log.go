package utils

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the structured logger shared by commands and the pipeline.
// format is "text" or "json"; level is any logrus level name.
func NewLogger(out io.Writer, level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q (use text or json)", format)
	}
	return log, nil
}
