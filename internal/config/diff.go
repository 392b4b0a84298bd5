package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	PlaybooksAdded   []string
	PlaybooksRemoved []string
	PlaybooksChanged []string

	TenantsChanged []string

	ToolsChanged     bool
	EngineChanged    bool
	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		len(d.PlaybooksAdded) > 0 ||
		len(d.PlaybooksRemoved) > 0 ||
		len(d.PlaybooksChanged) > 0 ||
		len(d.TenantsChanged) > 0 ||
		d.ToolsChanged ||
		d.EngineChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Agent diffs
	for id := range new.Agents {
		if _, ok := old.Agents[id]; !ok {
			d.AgentsAdded = append(d.AgentsAdded, id)
		}
	}
	for id := range old.Agents {
		if _, ok := new.Agents[id]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, id)
		}
	}
	for id, newDef := range new.Agents {
		if oldDef, ok := old.Agents[id]; ok {
			if !reflect.DeepEqual(oldDef, newDef) {
				d.AgentsChanged = append(d.AgentsChanged, id)
			}
		}
	}

	// Playbook diffs, keyed by id
	oldPBs := make(map[string]PlaybookConfig, len(old.Playbooks))
	for _, pb := range old.Playbooks {
		oldPBs[pb.ID] = pb
	}
	newPBs := make(map[string]PlaybookConfig, len(new.Playbooks))
	for _, pb := range new.Playbooks {
		newPBs[pb.ID] = pb
	}
	for id := range newPBs {
		if _, ok := oldPBs[id]; !ok {
			d.PlaybooksAdded = append(d.PlaybooksAdded, id)
		}
	}
	for id := range oldPBs {
		if _, ok := newPBs[id]; !ok {
			d.PlaybooksRemoved = append(d.PlaybooksRemoved, id)
		}
	}
	for id, newPB := range newPBs {
		if oldPB, ok := oldPBs[id]; ok {
			if !reflect.DeepEqual(oldPB, newPB) {
				d.PlaybooksChanged = append(d.PlaybooksChanged, id)
			}
		}
	}

	// Tenant diffs (domains, policy files)
	for name, newTenant := range new.Tenants {
		oldTenant, ok := old.Tenants[name]
		if !ok || !reflect.DeepEqual(oldTenant, newTenant) {
			d.TenantsChanged = append(d.TenantsChanged, name)
		}
	}
	for name := range old.Tenants {
		if _, ok := new.Tenants[name]; !ok {
			d.TenantsChanged = append(d.TenantsChanged, name)
		}
	}

	if !reflect.DeepEqual(old.Tools, new.Tools) {
		d.ToolsChanged = true
	}
	if old.Engine != new.Engine {
		d.EngineChanged = true
	}
	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	// Non-reloadable warnings
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.Notify.TelegramToken != new.Notify.TelegramToken {
		d.NonReloadable = append(d.NonReloadable, "notify.telegram_token")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
