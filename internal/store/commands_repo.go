package store

import (
	"context"
	"log/slog"
	"time"

	"taskpilot/internal/core"
)

const (
	localCommandsKey = "custom_commands"
	remoteCacheKey   = "remote_commands_cache"
	remoteSyncKey    = "remote_commands_last_sync"
	remoteEnabledKey = "remote_commands_enabled"
)

// CommandRepo provides CRUD for the local command library and read access
// to the synced remote cache. GetAll merges both lists, remote first, so
// remote commands shadow nothing and tasks can reference either.
type CommandRepo struct {
	store  *Store
	logger *slog.Logger

	now func() time.Time
}

// NewCommandRepo constructs a command repository.
func NewCommandRepo(store *Store, logger *slog.Logger) *CommandRepo {
	return &CommandRepo{store: store, logger: logger, now: time.Now}
}

// GetAll returns the merged command list: cached remote commands (when
// remote commands are enabled) followed by local ones.
func (r *CommandRepo) GetAll(ctx context.Context) []core.Command {
	local := r.GetLocal(ctx)
	if !r.RemoteEnabled(ctx) {
		return local
	}
	remote := r.RemoteCache(ctx)
	merged := make([]core.Command, 0, len(remote)+len(local))
	merged = append(merged, remote...)
	merged = append(merged, local...)
	return merged
}

// GetLocal returns the local commands, repairing records that predate
// required fields (missing IDs, names or code) and persisting the repair.
func (r *CommandRepo) GetLocal(ctx context.Context) []core.Command {
	var commands []core.Command
	if _, err := r.store.Get(ctx, localCommandsKey, &commands); err != nil {
		r.logger.Error("load commands", "err", err)
		return nil
	}
	migrated := false
	for i := range commands {
		if commands[i].ID == "" {
			commands[i].ID = core.NewID()
			migrated = true
			r.logger.Warn("assigned missing command id", "name", commands[i].Name, "id", commands[i].ID)
		}
		if commands[i].Name == "" {
			commands[i].Name = "unnamed-" + commands[i].ID
			migrated = true
		}
		commands[i].IsRemote = false
	}
	if migrated {
		r.Save(ctx, commands)
	}
	return commands
}

// Save persists the local command list. Remote entries are filtered out;
// they only ever live in the sync cache.
func (r *CommandRepo) Save(ctx context.Context, commands []core.Command) bool {
	local := make([]core.Command, 0, len(commands))
	for _, c := range commands {
		if !c.IsRemote {
			local = append(local, c)
		}
	}
	if err := r.store.Set(ctx, localCommandsKey, local); err != nil {
		r.logger.Error("save commands", "err", err)
		return false
	}
	return true
}

// Add appends a local command and returns it, or nil on persistence
// failure.
func (r *CommandRepo) Add(ctx context.Context, name, code, description string) *core.Command {
	command := core.Command{
		ID:          core.NewID(),
		Name:        name,
		Description: description,
		Code:        code,
		CreateTime:  r.now().UTC(),
	}
	commands := r.GetLocal(ctx)
	commands = append(commands, command)
	if !r.Save(ctx, commands) {
		return nil
	}
	return &command
}

// Remove deletes a local command by ID, reporting whether it was present
// and the shrunken list persisted. Remote commands cannot be removed here;
// they disappear on the next sync of their source list.
func (r *CommandRepo) Remove(ctx context.Context, id string) bool {
	commands := r.GetLocal(ctx)
	filtered := commands[:0]
	found := false
	for _, c := range commands {
		if c.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, c)
	}
	if !found {
		return false
	}
	return r.Save(ctx, filtered)
}

// Import appends commands that carry both a name and code, assigning
// fresh IDs, and reports how many were taken.
func (r *CommandRepo) Import(ctx context.Context, incoming []core.Command) int {
	commands := r.GetLocal(ctx)
	taken := 0
	for _, c := range incoming {
		if c.Name == "" || c.Code == "" {
			continue
		}
		commands = append(commands, core.Command{
			ID:          core.NewID(),
			Name:        c.Name,
			Description: c.Description,
			Code:        c.Code,
			CreateTime:  r.now().UTC(),
		})
		taken++
	}
	if taken == 0 {
		return 0
	}
	if !r.Save(ctx, commands) {
		return 0
	}
	return taken
}

// Export returns the local commands stripped to their portable fields.
func (r *CommandRepo) Export(ctx context.Context) []core.Command {
	local := r.GetLocal(ctx)
	out := make([]core.Command, 0, len(local))
	for _, c := range local {
		out = append(out, core.Command{
			Name:        c.Name,
			Description: c.Description,
			Code:        c.Code,
		})
	}
	return out
}

// RemoteEnabled reports whether synced remote commands participate in
// GetAll.
func (r *CommandRepo) RemoteEnabled(ctx context.Context) bool {
	var enabled bool
	if _, err := r.store.Get(ctx, remoteEnabledKey, &enabled); err != nil {
		r.logger.Warn("read remote commands flag", "err", err)
		return false
	}
	return enabled
}

// SetRemoteEnabled toggles remote command participation.
func (r *CommandRepo) SetRemoteEnabled(ctx context.Context, enabled bool) {
	if err := r.store.Set(ctx, remoteEnabledKey, enabled); err != nil {
		r.logger.Error("write remote commands flag", "err", err)
	}
}

// RemoteCache returns the cached remote command list.
func (r *CommandRepo) RemoteCache(ctx context.Context) []core.Command {
	var commands []core.Command
	if _, err := r.store.Get(ctx, remoteCacheKey, &commands); err != nil {
		r.logger.Error("load remote command cache", "err", err)
		return nil
	}
	return commands
}

// SaveRemoteCache replaces the remote cache and stamps the sync time.
func (r *CommandRepo) SaveRemoteCache(ctx context.Context, commands []core.Command) bool {
	if commands == nil {
		commands = []core.Command{}
	}
	if err := r.store.Set(ctx, remoteCacheKey, commands); err != nil {
		r.logger.Error("save remote command cache", "err", err)
		return false
	}
	if err := r.store.Set(ctx, remoteSyncKey, r.now().UTC()); err != nil {
		r.logger.Warn("stamp remote sync time", "err", err)
	}
	return true
}

// LastSync returns the time of the most recent remote sync, zero if never
// synced.
func (r *CommandRepo) LastSync(ctx context.Context) time.Time {
	var at time.Time
	if _, err := r.store.Get(ctx, remoteSyncKey, &at); err != nil {
		return time.Time{}
	}
	return at
}

// ClearRemoteCache drops the cached remote commands and the sync stamp.
func (r *CommandRepo) ClearRemoteCache(ctx context.Context) {
	if err := r.store.Remove(ctx, remoteCacheKey); err != nil {
		r.logger.Warn("clear remote command cache", "err", err)
	}
	if err := r.store.Remove(ctx, remoteSyncKey); err != nil {
		r.logger.Warn("clear remote sync time", "err", err)
	}
}
