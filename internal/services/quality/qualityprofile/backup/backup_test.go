package backup

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage/sqlite"
)

type fixture struct {
	store    *sqlite.Store
	profiles *qualityprofile.Service
	backups  *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "quality.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	for _, r := range []storage.Rule{
		{
			UUID: "r1", Repository: "go", Key: "S1", Name: "Long functions", Language: "go",
			Severity: "MAJOR", Type: "CODE_SMELL", Status: "READY",
			Impacts: map[string]string{"MAINTAINABILITY": "MEDIUM"},
			Params:  []storage.RuleParam{{Name: "max", Type: "INTEGER", DefaultValue: "10"}},
		},
		{UUID: "r2", Repository: "go", Key: "S2", Name: "Ignored error", Language: "go", Severity: "MINOR", Type: "BUG", Status: "READY"},
		{
			UUID: "tpl", Repository: "go", Key: "T1", Name: "Banned pattern", Language: "go",
			Severity: "MAJOR", Type: "CODE_SMELL", Status: "READY", IsTemplate: true,
			Params: []storage.RuleParam{{Name: "regex", Type: "STRING"}},
		},
		{
			UUID: "custom", Repository: "go", Key: "C1", Name: "No panics", Language: "go",
			Severity: "MAJOR", Type: "CODE_SMELL", Status: "READY", TemplateUUID: "tpl", Description: "avoid panic",
			Params: []storage.RuleParam{{Name: "regex", Type: "STRING", DefaultValue: "panic"}},
		},
	} {
		if err := store.PutRule(ctx, r); err != nil {
			t.Fatalf("put rule %s: %v", r.UUID, err)
		}
	}
	if err := store.PutDeprecatedRuleKey(ctx, storage.DeprecatedRuleKey{OldRepository: "old", OldKey: "S1", RuleUUID: "r1"}); err != nil {
		t.Fatalf("put deprecated key: %v", err)
	}
	profiles := qualityprofile.NewService(store, qualityprofile.Config{})
	return fixture{store: store, profiles: profiles, backups: NewService(store, profiles)}
}

func (f fixture) profile(t *testing.T, name string, activations ...qualityprofile.RuleActivation) storage.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := f.profiles.Create(ctx, qualityprofile.CreateRequest{Name: name, Language: "go"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if len(activations) > 0 {
		if _, err := f.profiles.Activate(ctx, p.Kee, activations...); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}
	return p
}

func activeKeys(t *testing.T, store *sqlite.Store, profileKee string) []string {
	t.Helper()
	active, err := store.ListActiveRules(context.Background(), profileKee)
	if err != nil {
		t.Fatalf("list active rules: %v", err)
	}
	keys := make([]string, len(active))
	for i, ar := range active {
		keys[i] = ar.RuleUUID
	}
	return keys
}

func TestBackupWritesProfileXML(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.profile(t, "Mine", qualityprofile.RuleActivation{RuleUUID: "r1", Severity: "CRITICAL", Params: map[string]string{"max": "20"}})

	var buf bytes.Buffer
	if err := f.backups.Backup(context.Background(), p.Kee, &buf); err != nil {
		t.Fatalf("backup: %v", err)
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<profile><name>Mine</name><language>go</language><rules>` +
		`<rule><repositoryKey>go</repositoryKey><key>S1</key><type>CODE_SMELL</type><priority>CRITICAL</priority>` +
		`<impacts><impact><softwareQuality>MAINTAINABILITY</softwareQuality><severity>HIGH</severity></impact></impacts>` +
		`<parameters><parameter><key>max</key><value>20</value></parameter></parameters>` +
		`</rule></rules></profile>`
	if got := buf.String(); got != want {
		t.Fatalf("backup =\n%s\nwant\n%s", got, want)
	}
}

func TestBackupEmptyProfileAndCustomRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	empty := f.profile(t, "Empty")
	var buf bytes.Buffer
	if err := f.backups.Backup(ctx, empty.Kee, &buf); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if want := `<?xml version="1.0" encoding="UTF-8"?><profile><name>Empty</name><language>go</language><rules></rules></profile>`; buf.String() != want {
		t.Fatalf("backup = %s, want %s", buf.String(), want)
	}

	prioritized := true
	p := f.profile(t, "Custom", qualityprofile.RuleActivation{RuleUUID: "custom", Prioritized: &prioritized})
	buf.Reset()
	if err := f.backups.Backup(ctx, p.Kee, &buf); err != nil {
		t.Fatalf("backup: %v", err)
	}
	for _, part := range []string{
		`<prioritizedRule>true</prioritizedRule><name>No panics</name><templateKey>T1</templateKey><description>avoid panic</description>`,
		`<parameters><parameter><key>regex</key><value>panic</value></parameter></parameters>`,
	} {
		if !strings.Contains(buf.String(), part) {
			t.Fatalf("backup %s does not contain %s", buf.String(), part)
		}
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	src := f.profile(t, "Source",
		qualityprofile.RuleActivation{RuleUUID: "r1", Severity: "BLOCKER", Params: map[string]string{"max": "3"}},
		qualityprofile.RuleActivation{RuleUUID: "r2"},
	)
	var buf bytes.Buffer
	if err := f.backups.Backup(ctx, src.Kee, &buf); err != nil {
		t.Fatalf("backup: %v", err)
	}

	summary, err := f.backups.Restore(ctx, &buf, "Restored")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if summary.Profile.Name != "Restored" || summary.Profile.Language != "go" {
		t.Fatalf("profile = %s/%s, want Restored/go", summary.Profile.Name, summary.Profile.Language)
	}
	if summary.Activated != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %d activated / %d failed, want 2/0", summary.Activated, summary.Failed)
	}
	ar, err := f.store.GetActiveRule(ctx, summary.Profile.Kee, "r1")
	if err != nil {
		t.Fatalf("get active rule: %v", err)
	}
	if ar.Severity != "BLOCKER" || ar.Params["max"] != "3" {
		t.Fatalf("restored r1 = %s max=%s, want BLOCKER max=3", ar.Severity, ar.Params["max"])
	}
}

func TestRestoreResetsExistingProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := f.profile(t, "Mine",
		qualityprofile.RuleActivation{RuleUUID: "r1", Params: map[string]string{"max": "99"}},
		qualityprofile.RuleActivation{RuleUUID: "r2"},
	)
	doc := `<?xml version='1.0' encoding='UTF-8'?>` +
		`<profile><name>Mine</name><language>go</language><rules>` +
		`<rule><repositoryKey>old</repositoryKey><key>S1</key><priority>MINOR</priority></rule>` +
		`<rule><repositoryKey>go</repositoryKey><key>UNKNOWN</key><priority>MAJOR</priority></rule>` +
		`</rules></profile>`

	summary, err := f.backups.Restore(ctx, strings.NewReader(doc), "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if summary.Profile.Kee != p.Kee {
		t.Fatalf("restored into %s, want existing %s", summary.Profile.Kee, p.Kee)
	}
	if diff := cmp.Diff([]string{"r1"}, activeKeys(t, f.store, p.Kee)); diff != "" {
		t.Fatalf("active rules mismatch (-want +got):\n%s", diff)
	}
	ar, err := f.store.GetActiveRule(ctx, p.Kee, "r1")
	if err != nil {
		t.Fatalf("get active rule: %v", err)
	}
	// params left out of the backup return to their default
	if ar.Severity != "MINOR" || ar.Params["max"] != "10" || ar.Prioritized {
		t.Fatalf("r1 = %s max=%s prioritized=%v, want MINOR max=10 false", ar.Severity, ar.Params["max"], ar.Prioritized)
	}
}

func TestRestoreCreatesMissingCustomRule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	doc := `<?xml version='1.0' encoding='UTF-8'?>` +
		`<profile><name>Custom</name><language>go</language><rules><rule>` +
		`<repositoryKey>go</repositoryKey><key>C9</key><type>CODE_SMELL</type><priority>CRITICAL</priority>` +
		`<name>No fmt.Print</name><templateKey>T1</templateKey><description>use a logger</description>` +
		`<cleanCodeAttribute>MODULAR</cleanCodeAttribute>` +
		`<parameters><parameter><key>regex</key><value>fmt\.Print</value></parameter></parameters>` +
		`</rule></rules></profile>`

	summary, err := f.backups.Restore(ctx, strings.NewReader(doc), "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	created, err := f.store.GetRuleByKey(ctx, "go", "C9")
	if err != nil {
		t.Fatalf("custom rule not created: %v", err)
	}
	if created.TemplateUUID != "tpl" || created.Name != "No fmt.Print" || created.CleanCodeAttribute != "MODULAR" {
		t.Fatalf("created rule = %+v", created)
	}
	ar, err := f.store.GetActiveRule(ctx, summary.Profile.Kee, created.UUID)
	if err != nil {
		t.Fatalf("custom rule not active: %v", err)
	}
	if ar.Severity != "CRITICAL" || ar.Params["regex"] != `fmt\.Print` {
		t.Fatalf("active custom rule = %s regex=%s", ar.Severity, ar.Params["regex"])
	}
}

func TestFailedRestoreLeavesCatalogUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	doc := `<?xml version='1.0' encoding='UTF-8'?>` +
		`<profile><name>Custom</name><language>go</language><rules><rule>` +
		`<repositoryKey>go</repositoryKey><key>C9</key><type>CODE_SMELL</type><priority>MAJOR</priority>` +
		`<name>No fmt.Print</name><templateKey>T1</templateKey>` +
		`<parameters><parameter><key>regex</key><value>fmt</value></parameter></parameters>` +
		`</rule></rules></profile>`

	_, err := f.backups.Restore(ctx, strings.NewReader(doc), strings.Repeat("n", 101))
	if err == nil {
		t.Fatal("expected restore to fail on a long profile name")
	}
	if _, err := f.store.GetRuleByKey(ctx, "go", "C9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get custom rule err = %v, want %v", err, storage.ErrNotFound)
	}

	// a rule failing after the profile is created rolls the profile back
	doc = `<?xml version='1.0' encoding='UTF-8'?>` +
		`<profile><name>Fresh</name><language>go</language><rules>` +
		`<rule><repositoryKey>go</repositoryKey><key>S1</key></rule>` +
		`<rule><repositoryKey>go</repositoryKey><key>E1</key></rule>` +
		`</rules></profile>`
	if err := f.store.PutRule(ctx, storage.Rule{
		UUID: "ext", Repository: "go", Key: "E1", Name: "Vet finding", Language: "go",
		Severity: "MAJOR", Type: "BUG", Status: "READY", IsExternal: true,
	}); err != nil {
		t.Fatalf("put external rule: %v", err)
	}
	if _, err := f.backups.Restore(ctx, strings.NewReader(doc), ""); !apperrors.IsCode(err, apperrors.CodeBackupInvalid) {
		t.Fatalf("restore err = %v, want %s", err, apperrors.CodeBackupInvalid)
	}
	if _, err := f.profiles.GetByName(ctx, "go", "Fresh"); !apperrors.IsCode(err, apperrors.CodeProfileNotFound) {
		t.Fatalf("get profile err = %v, want %s", err, apperrors.CodeProfileNotFound)
	}
}

func TestRestoreRejectsInvalidBackups(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"root", `<?xml version='1.0' encoding='UTF-8'?><rules/>`, "Backup XML is not valid. Root element must be <profile>."},
		{"malformed", `<profile><name>foo</name>`, "Fail to restore Quality profile backup, XML document is not well formed"},
		{"empty", ``, "Fail to restore Quality profile backup, XML document is not well formed"},
		{
			"duplicates",
			`<profile><name>x</name><language>go</language><rules>` +
				`<rule><repositoryKey>go</repositoryKey><key>S2</key></rule>` +
				`<rule><repositoryKey>go</repositoryKey><key>S1</key></rule>` +
				`<rule><repositoryKey>go</repositoryKey><key>S2</key></rule>` +
				`<rule><repositoryKey>go</repositoryKey><key>S1</key></rule>` +
				`</rules></profile>`,
			"The quality profile cannot be restored as it contains duplicates for the following rules: go:S1, go:S2",
		},
		{
			"external",
			`<profile><name>x</name><language>go</language><rules>` +
				`<rule><repositoryKey>external_golint</repositoryKey><key>E1</key></rule>` +
				`</rules></profile>`,
			"The quality profile cannot be restored as it contains rules from external rule engines: external_golint:E1",
		},
	}
	for _, tt := range tests {
		_, err := f.backups.Restore(context.Background(), strings.NewReader(tt.doc), "")
		if !apperrors.IsCode(err, apperrors.CodeBackupInvalid) {
			t.Fatalf("%s: error = %v, want %s", tt.name, err, apperrors.CodeBackupInvalid)
		}
		if got := apperrors.PublicMessage(err); got != tt.msg {
			t.Fatalf("%s: message = %q, want %q", tt.name, got, tt.msg)
		}
	}
}

func TestCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	src := f.profile(t, "Source", qualityprofile.RuleActivation{RuleUUID: "r2", Severity: "BLOCKER"})

	if _, err := f.backups.Copy(ctx, src.Kee, "Source"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("copy onto itself = %v, want %s", err, apperrors.CodeInvalidArgument)
	}
	summary, err := f.backups.Copy(ctx, src.Kee, "Target")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if summary.Profile.Name != "Target" || summary.Profile.Kee == src.Kee {
		t.Fatalf("copy target = %+v", summary.Profile)
	}
	if diff := cmp.Diff([]string{"r2"}, activeKeys(t, f.store, summary.Profile.Kee)); diff != "" {
		t.Fatalf("copied rules mismatch (-want +got):\n%s", diff)
	}
}
