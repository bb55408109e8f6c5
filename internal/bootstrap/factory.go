package bootstrap

import (
	"fmt"

	"ringcmh/internal/config"
)

// New builds the Discoverer selected by cfg.Mode.
func New(cfg config.BootstrapConfig) (Discoverer, error) {
	switch cfg.Mode {
	case "", "none":
		return None{}, nil
	case "static":
		return Static{Peers: cfg.Peers}, nil
	case "dns":
		if !cfg.Register.Enabled {
			return nil, fmt.Errorf("bootstrap: dns mode requires register.enabled for the hosted zone to query")
		}
		return NewRoute53(cfg.Register.HostedZoneID, cfg.Register.DomainSuffix, cfg.Register.TTL)
	default:
		return nil, fmt.Errorf("bootstrap: unknown mode %q", cfg.Mode)
	}
}
