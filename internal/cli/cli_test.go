package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/brieflow/internal/config"
	"github.com/raphaelgruber/brieflow/internal/evidence"
	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel answers stage prompts with a fixed result and classification prompts with
// a medical record.
type scriptedModel struct{}

func (scriptedModel) GenerateWithSystem(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.HasPrefix(systemPrompt, "You classify") {
		return `{"evidence_class": "primary", "evidence_type": "medical_record", "confidence": 0.9}`, nil
	}
	return `{"summary": "done", "quality_score": 0.8}`, nil
}

func testConfig(t *testing.T, storeKind string) config.Config {
	t.Helper()
	return config.Config{
		Store:           storeKind,
		DataDir:         t.TempDir(),
		LLMProvider:     config.ProviderNone,
		PhaseTimeout:    time.Minute,
		CheckpointKeep:  10,
		EvidenceWorkers: 2,
		PacketBudget:    2000,
		Profiles:        evidence.DefaultProfiles(),
	}
}

// useApp installs an app as the current invocation and resets the global flags.
func useApp(t *testing.T, cfg config.Config, withModel bool) *app {
	t.Helper()
	var a *app
	var err error
	if withModel {
		a, err = newApp(context.Background(), cfg, nil, scriptedModel{})
	} else {
		a, err = newApp(context.Background(), cfg, nil, nil)
	}
	require.NoError(t, err)

	current = a
	jsonOutput = false
	verbose = false
	runPhase, runOutput = "", ""
	restoreAt = ""
	startCaseID, startCaseType, startInputs, startRunAll = "", "", nil, false
	evidenceCaseType, evidenceMeta, evidenceNoWait = evidence.CaseGeneral, nil, false
	t.Cleanup(func() {
		_ = a.close(context.Background())
		current = nil
	})
	return a
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	return cmd, buf
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStartAndRunWithModel(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), true)

	cmd, out := testCmd()
	startRunAll = true
	require.NoError(t, runStart(cmd, []string{"Doe v. Acme"}))
	assert.Contains(t, out.String(), "Doe v. Acme")
	assert.Contains(t, out.String(), "7/7 phases")

	ids, err := a.coordinator.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	status, err := a.coordinator.GetWorkflowStatus(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, status.Status)
}

func TestRunWithoutCollaborator(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), false)
	sessionID, err := a.coordinator.StartWorkflow(context.Background(), workflow.StartRequest{CaseName: "Doe"})
	require.NoError(t, err)

	cmd, _ := testCmd()
	err = runRun(cmd, []string{sessionID})
	assert.ErrorIs(t, err, workflow.ErrNoCollaborator)
}

func TestRunPhaseFromOutputFile(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), false)
	sessionID, err := a.coordinator.StartWorkflow(context.Background(), workflow.StartRequest{CaseName: "Doe"})
	require.NoError(t, err)

	path := writeFile(t, t.TempDir(), "intake.yaml", "parties:\n  plaintiff: Jane Doe\njurisdiction: CA\n")
	runPhase, runOutput = "intake", path

	cmd, out := testCmd()
	require.NoError(t, runRun(cmd, []string{sessionID}))
	assert.Contains(t, out.String(), "✓ intake completed")

	session, err := a.coordinator.Session(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseResearch, session.CurrentPhase)
	assert.Equal(t, "CA", session.GlobalContext["jurisdiction"])
}

func TestRunOutputRequiresPhase(t *testing.T) {
	useApp(t, testConfig(t, config.StoreMemory), false)
	runOutput = "intake.yaml"
	cmd, _ := testCmd()
	assert.Error(t, runRun(cmd, []string{"s1"}))
}

func TestSessionsSurviveInvocations(t *testing.T) {
	cfg := testConfig(t, config.StoreDir)

	first := useApp(t, cfg, true)
	sessionID, err := first.coordinator.StartWorkflow(context.Background(), workflow.StartRequest{CaseName: "Doe"})
	require.NoError(t, err)
	_, err = first.coordinator.OrchestratePhase(context.Background(), sessionID, models.PhaseIntake)
	require.NoError(t, err)
	require.NoError(t, first.close(context.Background()))

	useApp(t, cfg, true)
	cmd, out := testCmd()
	jsonOutput = true
	require.NoError(t, runStatus(cmd, []string{sessionID}))

	var status workflow.WorkflowStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, models.PhaseResearch, status.CurrentPhase)
	assert.Equal(t, []models.Phase{models.PhaseIntake}, status.CompletedPhases)
}

func TestCheckpointCommands(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), true)
	ctx := context.Background()
	sessionID, err := a.coordinator.StartWorkflow(ctx, workflow.StartRequest{CaseName: "Doe"})
	require.NoError(t, err)
	_, err = a.coordinator.OrchestratePhase(ctx, sessionID, models.PhaseIntake)
	require.NoError(t, err)
	a.checkpoints.Wait()

	cmd, out := testCmd()
	require.NoError(t, runCheckpointsList(cmd, []string{sessionID}))
	assert.Contains(t, out.String(), "Checkpoints (2)")

	infos, err := a.checkpoints.List(ctx, sessionID)
	require.NoError(t, err)
	oldest := infos[len(infos)-1].Timestamp

	cmd, out = testCmd()
	restoreAt = oldest.Format(time.RFC3339Nano)
	require.NoError(t, runCheckpointsRestore(cmd, []string{sessionID}))
	assert.Contains(t, out.String(), "at phase intake")

	session, err := a.coordinator.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, session.CompletedPhases)

	cmd, out = testCmd()
	require.NoError(t, runCheckpointsStats(cmd, nil))
	assert.Contains(t, out.String(), "Sessions:    1")

	cmd, out = testCmd()
	require.NoError(t, runCheckpointsDelete(cmd, []string{sessionID}))
	assert.Contains(t, out.String(), "(3 checkpoints)")
}

func TestRestoreRejectsBadTimestamp(t *testing.T) {
	useApp(t, testConfig(t, config.StoreMemory), false)
	restoreAt = "yesterday"
	cmd, _ := testCmd()
	assert.Error(t, runCheckpointsRestore(cmd, []string{"s1"}))
}

func TestEvidenceAddAndStatus(t *testing.T) {
	useApp(t, testConfig(t, config.StoreMemory), false)
	dir := t.TempDir()
	report := writeFile(t, dir, "police-report.txt", "Police report of the incident on Main Street.")
	photo := writeFile(t, dir, "scene.jpg", "\xff\xd8\xff")

	cmd, out := testCmd()
	evidenceCaseType = evidence.CasePersonalInjury
	require.NoError(t, runEvidenceAdd(cmd, []string{"doe-acme", report, photo}))
	assert.Contains(t, out.String(), "Completed:          2")

	cmd, out = testCmd()
	jsonOutput = true
	require.NoError(t, runEvidenceStatus(cmd, []string{"doe-acme"}))

	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, evidence.CasePersonalInjury, status.CaseType)
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 0, status.Pending())
}

func TestEvidenceCancelUnknownItem(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), false)
	_, err := a.evidence.GetOrCreateQueue(context.Background(), "doe-acme", evidence.CaseGeneral)
	require.NoError(t, err)

	cmd, _ := testCmd()
	err = runEvidenceCancel(cmd, []string{"doe-acme", "missing"})
	assert.ErrorIs(t, err, evidence.ErrItemNotFound)
}

func TestEvidenceFeedsPhases(t *testing.T) {
	a := useApp(t, testConfig(t, config.StoreMemory), true)
	ctx := context.Background()

	note := writeFile(t, t.TempDir(), "er-visit.txt", "Patient admitted with fractured wrist.")
	cmd, _ := testCmd()
	require.NoError(t, runEvidenceAdd(cmd, []string{"doe-acme", note}))

	sessionID, err := a.coordinator.StartWorkflow(ctx, workflow.StartRequest{CaseName: "Doe", CaseID: "doe-acme"})
	require.NoError(t, err)
	_, err = a.coordinator.OrchestratePhase(ctx, sessionID, models.PhaseIntake)
	require.NoError(t, err)

	session, err := a.coordinator.Session(ctx, sessionID)
	require.NoError(t, err)
	facts, ok := session.GlobalContext[workflow.ContextKeyEvidence].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, facts["completed"])
}

func TestPacketBuildMarkdown(t *testing.T) {
	useApp(t, testConfig(t, config.StoreMemory), false)
	path := writeFile(t, t.TempDir(), "outline.md", `# Brief

## Facts
claim: c1

The floor was wet.

## Notice
claim: c1

The floor was wet.

## Damages
claim: c2

Medical bills of twelve thousand dollars.
`)
	packetBudget, packetLevel, packetDedupe = 100, 2, false

	cmd, out := testCmd()
	require.NoError(t, runPacketBuild(cmd, []string{path}))
	assert.Contains(t, out.String(), "Packet: 3 of 3 sections")
	assert.Contains(t, out.String(), "Links: 2")
	assert.Contains(t, out.String(), "facts = notice (claim c1)")
}

func TestReadSectionsYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sections.yaml", `
- section_id: s1
  claim_id: c1
  title: Facts
  summary: wet floor
  body: The floor was wet.
- section_id: s2
  claim_id: c1
  title: Notice
  summary: no sign
  body: No sign was posted.
  tags: [notice]
`)
	sections, err := readSections(path, 2)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "s2", sections[1].SectionID)
	assert.Equal(t, []string{"notice"}, sections[1].Tags)
}

func TestRunQueueProgressPlainOutput(t *testing.T) {
	status := models.QueueStatus{CaseID: "c1", Total: 2, Completed: 1, ErrorCount: 1, PrimaryPercentage: 100, AverageConfidence: 0.9}
	var out bytes.Buffer
	waited := false

	stopped, err := RunQueueProgress(&out, func() models.QueueStatus { return status }, func() error {
		waited = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.True(t, waited)
	assert.Contains(t, out.String(), "Completed:          1")
	assert.Contains(t, out.String(), "Errors:             1")
	assert.Contains(t, out.String(), "Primary evidence:   100%")
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 1.0, fraction(models.QueueStatus{}))
	assert.Equal(t, 0.5, fraction(models.QueueStatus{Total: 4, Queued: 1, Processing: 1}))
}
