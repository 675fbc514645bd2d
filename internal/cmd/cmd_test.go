package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/telemetry"
	"github.com/Iron-Ham/autopilot/internal/testutil"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

const testConfig = `recovery:
  persistence_backoff: 0s
channel:
  echo: false
logging:
  level: debug
`

// cli is a project directory with a tasks file and a scripted worker.
type cli struct {
	dir   string
	tasks string
	agent *testutil.ScriptedAgent
}

func newCLI(t *testing.T, tasks ...task.Task) *cli {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	if err := os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	c := &cli{
		dir:   dir,
		tasks: testutil.WriteTasksFile(t, tasks...),
		agent: testutil.NewScriptedAgent(),
	}
	orig := newAgent
	newAgent = func(*config.Config, *logging.Logger) (worker.Agent, error) {
		return c.agent, nil
	}
	t.Cleanup(func() {
		newAgent = orig
		viper.Reset()
	})
	return c
}

// resetFlags restores every flag to its default so one execution does not
// leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns captured output
func (c *cli) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	bindGlobalFlags()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--tasks", c.tasks}, args...))
	err := rootCmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func (c *cli) mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.execute(t, args...)
	if err != nil {
		t.Fatalf("autopilot %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (c *cli) taskStatus(t *testing.T, id string) task.Status {
	t.Helper()
	store, err := task.NewFileStore(c.tasks)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return testutil.MustGet(t, store, id).Status
}

func assertContains(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "autopilot" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "autopilot")
	}

	// Compare by Name(), not Use which includes args
	expectedCmds := []string{"run", "submit", "restore", "status", "decide", "checkpoints", "stats", "logs", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestSubmitAndStats(t *testing.T) {
	c := newCLI(t, testutil.PendingTask("T1", "Add login", "Form", "Handler"))

	out := c.mustExecute(t, "submit", "T1")
	assertContains(t, out, "T1", "done", "attempts=1")
	if got := c.taskStatus(t, "T1"); got != task.StatusDone {
		t.Errorf("T1 status = %s, want done", got)
	}

	out = c.mustExecute(t, "stats")
	assertContains(t, out, "STATISTICS", "1 attempted, 1 completed")

	out = c.mustExecute(t, "stats", "--json")
	var report telemetry.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("stats --json is not JSON: %v\n%s", err, out)
	}
	if report.Snapshot.Completed != 1 || report.SuccessRate != 1 {
		t.Errorf("report = %+v, want one completed task", report)
	}

	c.mustExecute(t, "stats", "--reset")
	out = c.mustExecute(t, "stats")
	assertContains(t, out, "0 attempted")
}

func TestStats_NoSnapshot(t *testing.T) {
	c := newCLI(t)
	out := c.mustExecute(t, "stats")
	assertContains(t, out, "No statistics yet")
}

func TestRun_DrainsQueue(t *testing.T) {
	a := testutil.PendingTask("A", "api", "a1")
	a.Dependencies = []string{"B"}
	c := newCLI(t, a, testutil.PendingTask("B", "schema", "b1"))

	out := c.mustExecute(t, "run")
	assertContains(t, out, "RUN SUMMARY", "A", "B")
	if strings.Index(out, "B  ") > strings.Index(out, "A  ") {
		t.Errorf("B should be reported before A:\n%s", out)
	}
	for _, id := range []string{"A", "B"} {
		if got := c.taskStatus(t, id); got != task.StatusDone {
			t.Errorf("%s status = %s, want done", id, got)
		}
	}

	out = c.mustExecute(t, "run")
	assertContains(t, out, "No task was ready.")
}

func TestRun_MaxTasks(t *testing.T) {
	c := newCLI(t,
		testutil.PendingTask("T1", "one", "a"),
		testutil.PendingTask("T2", "two", "b"),
	)

	c.mustExecute(t, "run", "--max-tasks", "1")
	if got := c.taskStatus(t, "T2"); got != task.StatusPending {
		t.Errorf("T2 status = %s, want pending", got)
	}
}

func TestEscalationWorkflow(t *testing.T) {
	c := newCLI(t, testutil.PendingTask("T3", "Deploy", "Push config"))
	c.agent.On(testutil.PromptStep,
		testutil.Fail("upstream returned 503"),
		testutil.Fail("permission denied writing /etc/app.conf"),
	)

	// A decision written ahead of time is picked up as soon as the task
	// escalates.
	out := c.mustExecute(t, "decide", "T3", "skip")
	assertContains(t, out, "Decision for T3", "skip")
	inbox := filepath.Join(config.StateDir(), "inbox")
	if _, err := os.Stat(channel.DecisionPath(inbox, "T3")); err != nil {
		t.Fatalf("decision file not written: %v", err)
	}

	out = c.mustExecute(t, "submit", "T3")
	assertContains(t, out, "T3", "blocked", "decision=skip")
	if got := c.taskStatus(t, "T3"); got != task.StatusBlocked {
		t.Errorf("T3 status = %s, want blocked", got)
	}

	out = c.mustExecute(t, "status", "-n", "50")
	assertContains(t, out, "T3", "blocked", "checkpoint", "ESCALATE", "needs a decision")

	out = c.mustExecute(t, "checkpoints", "list", "T3")
	assertContains(t, out, "T3", "EXECUTE", "ESCALATE")

	c.mustExecute(t, "checkpoints", "purge", "T3")
	out = c.mustExecute(t, "checkpoints", "list")
	assertContains(t, out, "No checkpoints.")
}

func TestDecide_InvalidDecision(t *testing.T) {
	c := newCLI(t)
	if _, err := c.execute(t, "decide", "T1", "maybe"); err == nil {
		t.Error("decide with an unknown decision should fail")
	}
	if _, err := c.execute(t, "decide", "T1"); err == nil {
		t.Error("decide without a decision should fail")
	}
}

func TestDecide_ResumeNote(t *testing.T) {
	c := newCLI(t)
	c.mustExecute(t, "decide", "T1", "resume", "the", "database", "is", "back")

	data, err := os.ReadFile(channel.DecisionPath(filepath.Join(config.StateDir(), "inbox"), "T1"))
	if err != nil {
		t.Fatalf("failed to read decision: %v", err)
	}
	d, err := channel.ParseDecision(string(data))
	if err != nil {
		t.Fatalf("ParseDecision() error: %v", err)
	}
	if d.Kind != channel.DecisionResume || d.Note != "the database is back" {
		t.Errorf("decision = %+v", d)
	}
}

func TestCheckpointsSweep(t *testing.T) {
	c := newCLI(t)
	out := c.mustExecute(t, "checkpoints", "sweep", "--older-than", "1h")
	assertContains(t, out, "Removed 0 checkpoint(s) older than 1h0m0s")
}

func TestLogs(t *testing.T) {
	c := newCLI(t, testutil.PendingTask("T1", "Add login", "Form"))
	c.mustExecute(t, "submit", "T1")

	out := c.mustExecute(t, "logs", "--task", "T1", "-n", "0")
	assertContains(t, out, "task submitted", "task=T1")

	out = c.mustExecute(t, "logs", "--grep", "^no-such-message$")
	assertContains(t, out, "No matching log entries found.")

	if _, err := c.execute(t, "logs", "--since", "yesterday"); err == nil {
		t.Error("logs with an invalid --since should fail")
	}
}

func TestLogs_NoFile(t *testing.T) {
	c := newCLI(t)
	out := c.mustExecute(t, "logs")
	assertContains(t, out, "No logs found.")
}

func TestConfigSetAndShow(t *testing.T) {
	c := newCLI(t)

	out := c.mustExecute(t, "config", "set", "recovery.max_attempts", "6")
	assertContains(t, out, "Set recovery.max_attempts = 6", ProjectConfigFile)

	out = c.mustExecute(t, "config", "show")
	assertContains(t, out, "max_attempts: 6", "persistence_backoff: 0s")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"config", "set", "recovery.nope", "1"}},
		{"not an integer", []string{"config", "set", "recovery.max_attempts", "many"}},
		{"fails validation", []string{"config", "set", "checkpoint.backend", "postgres"}},
		{"bad duration", []string{"config", "set", "checkpoint.retention", "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.execute(t, tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}

	out = c.mustExecute(t, "config", "show")
	assertContains(t, out, "backend: file")
}

func TestConfigInitAndValidate(t *testing.T) {
	c := newCLI(t)

	if _, err := c.execute(t, "config", "init"); err == nil {
		t.Error("config init should refuse to overwrite an existing file")
	}

	if err := os.Remove(filepath.Join(c.dir, ProjectConfigFile)); err != nil {
		t.Fatal(err)
	}
	out := c.mustExecute(t, "config", "init")
	assertContains(t, out, "Created config file")

	out = c.mustExecute(t, "config", "validate")
	assertContains(t, out, "Configuration is valid.")

	out = c.mustExecute(t, "config", "path")
	assertContains(t, out, ProjectConfigFile)
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"workflow.enable_reflection", "false", false, false},
		{"recovery.max_attempts", "6", 6, false},
		{"recovery.max_attempts", "-1", nil, true},
		{"recovery.decision_timeout", "90s", "1m30s", false},
		{"checkpoint.backend", "sqlite", "sqlite", false},
		{"tui.theme", "dark", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseSetting(tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseSetting() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSetting() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseSetting() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}
