package auth

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/malcolmseyd/nhp-go/crypto"
)

type datagram struct {
	packet []byte
	addr   net.Addr
}

// Serve reads packets from conn and handles them on workers goroutines
// until ctx is done or conn fails. Replies go back to the sender's address.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn, workers int) error {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan datagram, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				reply, err := r.Handle(d.packet, d.addr)
				if err != nil || reply == nil {
					continue
				}
				if _, err := conn.WriteTo(reply, d.addr); err != nil {
					r.log.Warningf("reply to %v: %v", d.addr, err)
				}
			}
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	var err error
	for {
		buf := make([]byte, crypto.MaxPacketSize+1)
		n, addr, rerr := conn.ReadFrom(buf)
		if rerr != nil {
			if ctx.Err() == nil {
				var ne net.Error
				if errors.As(rerr, &ne) && ne.Timeout() {
					continue
				}
				err = rerr
			}
			break
		}
		select {
		case jobs <- datagram{packet: buf[:n], addr: addr}:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	return err
}

// PruneEvery calls Prune every interval until ctx is done
func (r *Responder) PruneEvery(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Prune(); n > 0 {
				r.log.Debugf("pruned replay state of %d agents", n)
			}
		}
	}
}
