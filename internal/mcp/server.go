package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"taskpilot/internal/core"
	"taskpilot/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes task and command management over the Model Context
// Protocol on stdio.
type MCPServer struct {
	tasks    *store.TaskRepo
	commands *store.CommandRepo
	runs     *store.RunRepo
	engine   *core.Engine
	logger   *slog.Logger
	location *time.Location
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(tasks *store.TaskRepo, commands *store.CommandRepo, runs *store.RunRepo, engine *core.Engine, logger *slog.Logger, location *time.Location) *MCPServer {
	return &MCPServer{
		tasks:    tasks,
		commands: commands,
		runs:     runs,
		engine:   engine,
		logger:   logger,
		location: location,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"taskpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("task_create",
		mcp.WithDescription("Create a scheduled task that runs a stored command. The schedule accepts shorthand strings (every-minute, every-hour, custom:<cron>) or a JSON object such as {\"type\":\"daily\",\"time\":\"09:00\"}"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("command_id",
			mcp.Required(),
			mcp.Description("ID of the command to execute"),
		),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("Schedule rule, e.g. 'every-hour', 'custom:0 9 * * 1-5', or '{\"type\":\"weekly\",\"dayOfWeek\":1,\"time\":\"08:30\"}'"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Whether the task starts enabled (default true)"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List all scheduled tasks"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Get task details"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("task_update",
		mcp.WithDescription("Update a task's name, command, schedule, or enabled state"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("name",
			mcp.Description("New task name"),
		),
		mcp.WithString("command_id",
			mcp.Description("New command ID"),
		),
		mcp.WithString("schedule",
			mcp.Description("New schedule rule"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Enable or disable the task"),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("task_delete",
		mcp.WithDescription("Delete a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("task_run",
		mcp.WithDescription("Run a task immediately, outside its schedule"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("task_runs",
		mcp.WithDescription("List recent runs of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default 10)"),
			mcp.Min(1),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("command_create",
		mcp.WithDescription("Create a reusable command from a snippet of JavaScript code"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Command name"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("JavaScript code to execute; top-level await is allowed"),
		),
		mcp.WithString("description",
			mcp.Description("Human-readable description"),
		),
	), s.handleCreateCommand)

	mcpServer.AddTool(mcp.NewTool("command_list",
		mcp.WithDescription("List available commands"),
		mcp.WithString("scope",
			mcp.Description("Filter scope: local, remote, or all (default all)"),
			mcp.Enum("local", "remote", "all"),
		),
	), s.handleListCommands)

	mcpServer.AddTool(mcp.NewTool("command_delete",
		mcp.WithDescription("Delete a local command"),
		mcp.WithString("command_id",
			mcp.Required(),
			mcp.Description("Command ID"),
		),
	), s.handleDeleteCommand)

	mcpServer.AddTool(mcp.NewTool("schedule_preview",
		mcp.WithDescription("Preview the next fire times of a schedule rule"),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("Schedule rule in the same formats accepted by task_create"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of occurrences to preview (default 5, max 10)"),
			mcp.Min(1),
		),
	), s.handleSchedulePreview)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(mcp.ParseString(request, "name", ""))
	commandID := strings.TrimSpace(mcp.ParseString(request, "command_id", ""))
	scheduleText := mcp.ParseString(request, "schedule", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if commandID == "" {
		return mcp.NewToolResultError("command_id is required"), nil
	}

	task := core.NewTask(name, commandID, core.ParseScheduleText(scheduleText))
	task.Enabled = mcp.ParseBoolean(request, "enabled", true)

	created := s.tasks.Add(ctx, task)
	if created == nil {
		return mcp.NewToolResultError("failed to save task"), nil
	}
	if created.Enabled {
		s.engine.AddScheduledTask(*created)
	}

	s.logger.Info("task created", "task_id", created.ID, "schedule", created.Schedule.String())
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nSchedule: %s\nNext run: %s",
		created.ID,
		created.Schedule.String(),
		formatTime(&created.NextRun),
	)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks := s.tasks.ListAll(ctx)
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	result := fmt.Sprintf("Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		result += fmt.Sprintf("%s (%s)\n", t.ID, state)
		result += fmt.Sprintf("  Name: %s\n", t.Name)
		result += fmt.Sprintf("  Command: %s\n", t.CommandID)
		result += fmt.Sprintf("  Schedule: %s\n", t.Schedule.String())
		if t.Enabled {
			result += fmt.Sprintf("  Next run: %s\n", formatTime(&t.NextRun))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, ok := s.tasks.Get(ctx, taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}

	result := fmt.Sprintf("Task ID: %s\n", task.ID)
	result += fmt.Sprintf("Name: %s\n", task.Name)
	result += fmt.Sprintf("Command: %s\n", task.CommandID)
	result += fmt.Sprintf("Schedule: %s\n", task.Schedule.String())
	result += fmt.Sprintf("Enabled: %t\n", task.Enabled)
	if task.LastRun != nil {
		result += fmt.Sprintf("Last run: %s\n", formatTime(task.LastRun))
	}
	result += fmt.Sprintf("Next run: %s\n", formatTime(&task.NextRun))
	result += fmt.Sprintf("Created: %s\n", formatTime(&task.CreateTime))
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if _, ok := s.tasks.Get(ctx, taskID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}

	var patch core.TaskPatch
	if name := strings.TrimSpace(mcp.ParseString(request, "name", "")); name != "" {
		patch.Name = &name
	}
	if commandID := strings.TrimSpace(mcp.ParseString(request, "command_id", "")); commandID != "" {
		patch.CommandID = &commandID
	}
	if scheduleText := mcp.ParseString(request, "schedule", ""); scheduleText != "" {
		schedule := core.ParseScheduleText(scheduleText)
		patch.Schedule = &schedule
	}
	if request.GetArguments()["enabled"] != nil {
		enabled := mcp.ParseBoolean(request, "enabled", true)
		patch.Enabled = &enabled
	}

	if !s.tasks.Update(ctx, taskID, patch) {
		return mcp.NewToolResultError("failed to update task"), nil
	}

	// Push the stored record into the engine rather than the raw patch: the
	// repository recomputes NextRun on schedule changes, and a re-enabled
	// task has no in-memory copy to patch.
	task, ok := s.tasks.Get(ctx, taskID)
	if !ok {
		return mcp.NewToolResultError("failed to load task"), nil
	}
	if task.Enabled {
		s.engine.AddScheduledTask(*task)
	} else {
		s.engine.RemoveScheduledTask(taskID)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task updated\nID: %s\nSchedule: %s\nEnabled: %t\nNext run: %s",
		task.ID,
		task.Schedule.String(),
		task.Enabled,
		formatTime(&task.NextRun),
	)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if _, ok := s.tasks.Get(ctx, taskID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	if !s.tasks.Remove(ctx, taskID) {
		return mcp.NewToolResultError("failed to delete task"), nil
	}
	s.engine.RemoveScheduledTask(taskID)
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	switch err := s.engine.RunNow(ctx, taskID); err {
	case nil:
		return mcp.NewToolResultText(fmt.Sprintf("Task started: %s", taskID)), nil
	case core.ErrTaskRunning:
		return mcp.NewToolResultError("task is already running"), nil
	case core.ErrTaskNotFound:
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if _, ok := s.tasks.Get(ctx, taskID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}

	limit := int(mcp.ParseFloat64(request, "limit", 10))
	runs, err := s.runs.List(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs recorded"), nil
	}

	result := fmt.Sprintf("Last %d runs:\n\n", len(runs))
	for _, run := range runs {
		result += fmt.Sprintf("%s %s\n", statusToIcon(run.Status), run.ID)
		result += fmt.Sprintf("  Started: %s\n", run.StartedAt.In(s.location).Format(time.RFC3339))
		if run.Error != nil {
			result += fmt.Sprintf("  Error: %s\n", truncateString(*run.Error, 120))
		}
		if run.Result != nil {
			result += fmt.Sprintf("  Result: %s\n", truncateString(*run.Result, 120))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleCreateCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(mcp.ParseString(request, "name", ""))
	code := mcp.ParseString(request, "code", "")
	description := mcp.ParseString(request, "description", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if strings.TrimSpace(code) == "" {
		return mcp.NewToolResultError("code is required"), nil
	}

	command := s.commands.Add(ctx, name, code, description)
	if command == nil {
		return mcp.NewToolResultError("failed to save command"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Command created\nID: %s\nName: %s", command.ID, command.Name)), nil
}

func (s *MCPServer) handleListCommands(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var commands []core.Command
	switch mcp.ParseString(request, "scope", "all") {
	case "local":
		commands = s.commands.GetLocal(ctx)
	case "remote":
		commands = s.commands.RemoteCache(ctx)
	default:
		commands = s.commands.GetAll(ctx)
	}
	if len(commands) == 0 {
		return mcp.NewToolResultText("No commands found"), nil
	}

	result := fmt.Sprintf("Found %d commands:\n\n", len(commands))
	for _, c := range commands {
		origin := "local"
		if c.IsRemote {
			origin = "remote"
		}
		result += fmt.Sprintf("%s (%s)\n", c.ID, origin)
		result += fmt.Sprintf("  Name: %s\n", c.Name)
		if c.Description != "" {
			result += fmt.Sprintf("  Description: %s\n", truncateString(c.Description, 80))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleDeleteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	commandID := mcp.ParseString(request, "command_id", "")
	if !s.commands.Remove(ctx, commandID) {
		return mcp.NewToolResultError(fmt.Sprintf("command not found: %s", commandID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Command deleted: %s", commandID)), nil
}

func (s *MCPServer) handleSchedulePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scheduleText := mcp.ParseString(request, "schedule", "")
	if strings.TrimSpace(scheduleText) == "" {
		return mcp.NewToolResultError("schedule is required"), nil
	}
	schedule := core.ParseScheduleText(scheduleText)

	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}

	times := core.NextOccurrences(schedule, time.Now().In(s.location), count)
	result := fmt.Sprintf("Schedule: %s\nNext %d fire times:\n", schedule.String(), len(times))
	for _, t := range times {
		result += fmt.Sprintf("  %s\n", t.In(s.location).Format(time.RFC3339))
	}
	return mcp.NewToolResultText(result), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Cut on a rune boundary so the result stays valid UTF-8.
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

func statusToIcon(status core.RunStatus) string {
	switch status {
	case core.RunStatusSucceeded:
		return "✅"
	case core.RunStatusFailed:
		return "❌"
	default:
		return "⏭️"
	}
}
