package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskpilot/internal/core"
)

// RemoteSyncer fetches a shared command list (a JSON array of commands)
// and replaces the remote cache with its normalized contents.
type RemoteSyncer struct {
	commands *CommandRepo
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteSyncer constructs a syncer with a bounded-timeout client.
func NewRemoteSyncer(commands *CommandRepo, logger *slog.Logger) *RemoteSyncer {
	return &RemoteSyncer{
		commands: commands,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

type remoteCommand struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
	CreateTime  string `json:"createTime"`
}

// Sync downloads the command list at url and stores it in the remote
// cache. Entries missing both a name and code are skipped. Returns the
// number of cached commands.
func (s *RemoteSyncer) Sync(ctx context.Context, url string) (int, error) {
	if url == "" {
		return 0, fmt.Errorf("remote command url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create sync request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch remote commands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("remote command list returned status %d", resp.StatusCode)
	}

	var raw []remoteCommand
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return 0, fmt.Errorf("decode remote command list: %w", err)
	}

	commands := make([]core.Command, 0, len(raw))
	for i, rc := range raw {
		if rc.Name == "" && rc.Code == "" {
			s.logger.Warn("skipping invalid remote command", "index", i)
			continue
		}
		cmd := core.Command{
			ID:          rc.ID,
			Name:        rc.Name,
			Description: rc.Description,
			Code:        rc.Code,
			CreateTime:  time.Now().UTC(),
			IsRemote:    true,
			RemoteURL:   url,
		}
		if cmd.ID == "" {
			cmd.ID = fmt.Sprintf("remote_%d_%d", time.Now().UnixMilli(), i)
		}
		if cmd.Name == "" {
			cmd.Name = fmt.Sprintf("remote-command-%d", i+1)
		}
		if rc.CreateTime != "" {
			if t, err := time.Parse(time.RFC3339, rc.CreateTime); err == nil {
				cmd.CreateTime = t
			}
		}
		commands = append(commands, cmd)
	}

	if !s.commands.SaveRemoteCache(ctx, commands) {
		return 0, fmt.Errorf("persist remote command cache")
	}
	s.logger.Info("remote commands synced", "url", url, "count", len(commands))
	return len(commands), nil
}
