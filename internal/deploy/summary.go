package deploy

import (
	"io"
	"os"
	"time"

	"foldhost/internal/git"
	"foldhost/internal/https"
	"foldhost/internal/models"

	"gopkg.in/yaml.v3"
)

// Step names a pipeline state.
type Step string

const (
	StepSyncFiles       Step = "SYNC_FILES"
	StepDetectApps      Step = "DETECT_APPS"
	StepStartContainers Step = "START_CONTAINERS"
	StepStopOrphans     Step = "STOP_ORPHANS"
	StepIssueCerts      Step = "ISSUE_CERTS"
	StepFixPermissions  Step = "FIX_PERMISSIONS"
	StepRenderConfig    Step = "RENDER_CONFIG"
	StepValidateReload  Step = "VALIDATE_AND_RELOAD"
	StepDone            Step = "DONE"
	StepFailed          Step = "FAILED"
)

// Summary is the per-run report.
type Summary struct {
	RunID        string                  `yaml:"run_id" json:"run_id"`
	Target       string                  `yaml:"target" json:"target"`
	Domain       string                  `yaml:"domain" json:"domain"`
	Revision     *git.Revision           `yaml:"revision,omitempty" json:"revision,omitempty"`
	State        Step                    `yaml:"state" json:"state"`
	Error        string                  `yaml:"error,omitempty" json:"error,omitempty"`
	Apps         []models.AppRecord      `yaml:"apps" json:"apps"`
	Ports        []models.PortAssignment `yaml:"ports" json:"ports"`
	Orphans      []string                `yaml:"orphans" json:"orphans"`
	TornDown     []string                `yaml:"torn_down" json:"torn_down"`
	Certificates []CertificateResult     `yaml:"certificates" json:"certificates"`
	Failures     []FailureRecord         `yaml:"failures" json:"failures"`
	Steps        []StepTiming            `yaml:"steps" json:"steps"`
	StartedAt    time.Time               `yaml:"started_at" json:"started_at"`
	FinishedAt   time.Time               `yaml:"finished_at" json:"finished_at"`

	recoverable []*StepError
}

type CertificateResult struct {
	Subject         string            `yaml:"subject" json:"subject"`
	Status          https.IssueStatus `yaml:"status" json:"status"`
	MaterialPresent bool              `yaml:"material_present" json:"material_present"`
	Error           string            `yaml:"error,omitempty" json:"error,omitempty"`
}

type FailureRecord struct {
	Step    Step   `yaml:"step" json:"step"`
	Subject string `yaml:"subject,omitempty" json:"subject,omitempty"`
	Error   string `yaml:"error" json:"error"`
}

type StepTiming struct {
	Step     Step          `yaml:"step" json:"step"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	Failures int           `yaml:"failures" json:"failures"`
}

// Recoverable returns the recorded recoverable errors.
func (s *Summary) Recoverable() []*StepError {
	return append([]*StepError(nil), s.recoverable...)
}

// Succeeded reports whether the run reached DONE.
func (s *Summary) Succeeded() bool {
	return s.State == StepDone
}

func (s *Summary) record(err *StepError) {
	s.recoverable = append(s.recoverable, err)
	s.Failures = append(s.Failures, FailureRecord{Step: err.Step, Subject: err.Subject, Error: err.Err.Error()})
}

func (s *Summary) failuresIn(step Step) int {
	n := 0
	for _, e := range s.recoverable {
		if e.Step == step {
			n++
		}
	}
	return n
}

// WriteYAML encodes the summary.
func (s *Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes the YAML summary to path.
func (s *Summary) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
