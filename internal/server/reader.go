package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/mkowalik/go-can-arbiter/internal/arbiter"
	"github.com/mkowalik/go-can-arbiter/internal/can"
	"github.com/mkowalik/go-can-arbiter/internal/hub"
	"github.com/mkowalik/go-can-arbiter/internal/metrics"
	"github.com/mkowalik/go-can-arbiter/internal/serial"
	"github.com/mkowalik/go-can-arbiter/internal/socketcan"
)

// isOverflow reports whether err means the frame was dropped for lack of
// buffer space somewhere between the scheduler and the backend writer.
func isOverflow(err error) bool {
	return errors.Is(err, arbiter.ErrQueueFull) ||
		errors.Is(err, serial.ErrTxOverflow) ||
		errors.Is(err, socketcan.ErrTxOverflow)
}

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			if mfd, ok := s.Codec.(interface {
				DecodeN(io.Reader, int, func(can.Frame)) (int, error)
			}); ok {
				var err error
				count, err = mfd.DecodeN(conn, 16, func(fr can.Frame) {
					if s.frameFilter != nil && !s.frameFilter(&fr) {
						return
					}
					metrics.IncRx(metrics.LinkTCP)
					if err := s.Send(fr); err != nil {
						if isOverflow(err) {
							s.totalBackendOverflow.Add(1)
							logger.Debug("backend_overflow_drop", "frame", fr.String())
						} else {
							s.totalBackendErrors.Add(1)
							logger.Error("backend_tx_error", "error", err, "frame", fr.String())
						}
					}
				})
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
			} else {
				fr, err := s.Codec.Decode(conn)
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				if s.frameFilter == nil || s.frameFilter(&fr) {
					metrics.IncRx(metrics.LinkTCP)
					if err := s.Send(fr); err != nil {
						if isOverflow(err) {
							s.totalBackendOverflow.Add(1)
							logger.Debug("backend_overflow_drop", "frame", fr.String())
						} else {
							wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
							s.setError(wrap)
							s.totalBackendErrors.Add(1)
							logger.Error("backend_tx_error", "error", wrap, "frame", fr.String())
						}
					}
				}
				count = 1
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
