package transport

import (
	"errors"
	"io"
)

// copyBuffer streams src into dst through buf. When size is non-negative,
// reaching EOF before size bytes have been read is a short read. progress,
// if set, receives every chunk after it has been written to dst.
func copyBuffer(dst io.Writer, src io.Reader, size int64, buf []byte, progress io.Writer) (int64, error) {
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, ErrShortWrite
			}
			written += int64(nw)
			if progress != nil {
				progress.Write(buf[:nw])
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if size >= 0 && written < size {
					return written, ErrShortRead
				}
				return written, nil
			}
			return written, rerr
		}
	}
}
