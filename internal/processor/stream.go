package processor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
)

const maxLineBytes = 1 << 20

// Stream delivers one signed transaction per input line and writes one
// Result per line to w. Blank lines are skipped. It stops at the first read
// or write error, or when ctx is cancelled.
func (p *Processor) Stream(ctx context.Context, r io.Reader, w io.Writer) (applied, failed int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return applied, failed, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		res := p.DeliverTx(ctx, line)
		if res.OK() {
			applied++
		} else {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return applied, failed, err
		}
	}
	return applied, failed, scanner.Err()
}
