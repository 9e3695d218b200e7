//go:build !gocv

package probe

// NewProber returns the prober used by the server.
func NewProber(conf Config) Prober {
	return NewStaticProber(conf)
}
