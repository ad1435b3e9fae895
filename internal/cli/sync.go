package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/hublens/internal/config"
	"github.com/darshan-rambhia/hublens/internal/instance"
	"github.com/darshan-rambhia/hublens/internal/model"
)

// syncInstances registers the instances declared in the config file.
// Declared instances are matched to stored ones by name; only fields that
// differ are updated so an unchanged entry keeps its cached token.
func (e *env) syncInstances(declared []config.InstanceConfig) error {
	existing, err := e.registry.List()
	if err != nil {
		return err
	}
	byName := make(map[string]model.Instance, len(existing))
	for _, inst := range existing {
		byName[inst.Name] = inst
	}

	var errs []error
	for _, ic := range declared {
		insecure := ic.Insecure
		p := instance.Params{Name: ic.Name, URL: ic.URL, Email: ic.Email, Secret: ic.Secret(), Insecure: &insecure}

		inst, ok := byName[ic.Name]
		if !ok {
			if _, err := e.registry.Add(p); err != nil {
				errs = append(errs, fmt.Errorf("instance %s: %w", ic.Name, err))
			}
			continue
		}

		if strings.TrimRight(p.URL, "/") == inst.URL {
			p.URL = ""
		}
		if p.Email == inst.Email {
			p.Email = ""
		}
		if cur, err := e.creds.Get(inst.ID); err == nil && cur == p.Secret {
			p.Secret = ""
		}
		if _, err := e.registry.Update(inst.ID, p); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", ic.Name, err))
		}
	}
	return errors.Join(errs...)
}
