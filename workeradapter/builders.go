package workeradapter

import "github.com/agentcore/agentcore/types"

// OpenCodeCommand builds the opencode CLI invocation for a task.
func OpenCodeCommand(task types.WorkerTask) []string {
	cmd := []string{"opencode", "run", "--format", "json"}
	if task.Model != "" {
		cmd = append(cmd, "--model", task.Model)
	}
	return append(cmd, task.Instructions)
}

// ClaudeCodeCommand builds the claude CLI invocation for a task.
func ClaudeCodeCommand(task types.WorkerTask) []string {
	cmd := []string{"claude", "--print", "--output-format", "stream-json"}
	if task.Model != "" {
		cmd = append(cmd, "--model", task.Model)
	}
	return append(cmd, task.Instructions)
}

// CodexCLICommand builds the codex CLI invocation for a task.
func CodexCLICommand(task types.WorkerTask) []string {
	cmd := []string{"codex", "exec", "--json"}
	if task.Model != "" {
		cmd = append(cmd, "--model", task.Model)
	}
	return append(cmd, task.Instructions)
}
