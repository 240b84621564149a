package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

var errNoSources = errors.New("no package sources")

// writeSession streams every source into session under packageName and syncs it.
// Any failure is wrapped in install.ErrStreamCopy; nothing is committed here.
func (c *Coordinator) writeSession(
	ctx context.Context,
	packageName string,
	session install.Session,
	sources []string,
) (written int64, err error) {
	if len(sources) == 0 {
		return 0, fmt.Errorf("%w: %w", install.ErrStreamCopy, errNoSources)
	}

	w, err := session.OpenWrite(packageName, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("%w: open write: %w", install.ErrStreamCopy, err)
	}

	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close writer: %w", install.ErrStreamCopy, closeErr)
		}
	}()

	written, err = copySources(ctx, c.content, w, sources, make([]byte, c.bufferSize))
	if err != nil {
		return written, err
	}

	if err = session.Fsync(w); err != nil {
		return written, fmt.Errorf("%w: fsync: %w", install.ErrStreamCopy, err)
	}

	return written, nil
}

// copySources appends every source to w in order, reusing buf for all reads.
func copySources(
	ctx context.Context,
	resolver install.ContentResolver,
	w io.Writer,
	sources []string,
	buf []byte,
) (int64, error) {
	var total int64

	for _, uri := range sources {
		n, err := copySource(ctx, resolver, w, uri, buf)
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// copySource copies one source until end of stream.
func copySource(
	ctx context.Context,
	resolver install.ContentResolver,
	w io.Writer,
	uri string,
	buf []byte,
) (int64, error) {
	r, err := resolver.Open(ctx, uri)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", install.ErrStreamCopy, uri, err)
	}

	defer safeClose(ctx, r)

	var written int64

	for {
		if err = ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", install.ErrStreamCopy, err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err = w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("%w: write: %w", install.ErrStreamCopy, err)
			}

			written += int64(n)
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, fmt.Errorf("%w: read %s: %w", install.ErrStreamCopy, uri, readErr)
		}
	}
}

// safeClose closes a source stream, which may already be closed.
func safeClose(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.DebugKV(ctx, "Ignoring close error", "error", err)
	}
}
