package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/metriful-to-mqtt/pkg/output"
	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
)

type ConsoleOutput struct {
	w   io.Writer
	now func() time.Time
}

func NewConsole() output.Output { return NewConsoleTo(os.Stdout, time.Now) }

// NewConsoleTo writes to w, stamping each line with now().
func NewConsoleTo(w io.Writer, now func() time.Time) output.Output {
	return &ConsoleOutput{w: w, now: now}
}

func (c *ConsoleOutput) Publish(_ context.Context, p payload.Payload) error {
	b, err := p.JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.w, "%s %s\n", c.now().Format(time.RFC3339), b)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
