package routeconfig

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// WatchSIGHUP starts a goroutine that reloads s whenever the process
// receives SIGHUP, logging (not panicking) on reload failure. The returned
// stop func cancels the watch and must be called on shutdown.
func (s *Store) WatchSIGHUP() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				if err := s.Reload(); err != nil {
					log.Error().Err(err).Str("component", "routeconfig").Msg("SIGHUP reload failed")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
