package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/storage"
)

// SupportBundle is the diagnostics snapshot written when a provision fails.
type SupportBundle struct {
	Provision   service.Provision
	Domains     []service.Domain
	StepLogs    []service.StepLog
	FailedStep  service.StepInfo
	Error       string
	GeneratedAt time.Time
}

func (e *Engine) exportBundle(ctx context.Context, rc *runContext, st stepDef, cause error) (string, error) {
	logs, err := e.repo.ListStepLogs(ctx, rc.provision.ID)
	if err != nil {
		return "", err
	}
	domains := rc.domains
	if rc.provision.ProductType == service.ProductOutreachTools {
		// rc.domains holds the email provision's domains for outreach runs
		domains = nil
	}
	return e.exporter.Export(ctx, SupportBundle{
		Provision:   rc.provision,
		Domains:     domains,
		StepLogs:    logs,
		FailedStep:  st.info,
		Error:       cause.Error(),
		GeneratedAt: e.now(),
	})
}

type bundleStepLog struct {
	Seq       int64             `json:"seq"`
	Step      int               `json:"step"`
	Status    string            `json:"status"`
	Error     *string           `json:"error,omitempty"`
	Output    map[string]string `json:"output,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type bundleDomain struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Mailboxes []string `json:"mailboxes"`
}

type bundleDocument struct {
	ProvisionID   string          `json:"provisionId"`
	OwnerID       string          `json:"ownerId"`
	ProductType   string          `json:"productType"`
	Status        string          `json:"status"`
	StatusDetail  *string         `json:"statusDetail,omitempty"`
	TierID        *string         `json:"tierId,omitempty"`
	Provider      string          `json:"serviceProvider,omitempty"`
	FailedStep    int             `json:"failedStep"`
	FailedStepKey string          `json:"failedStepKey"`
	Error         string          `json:"error"`
	Domains       []bundleDomain  `json:"domains,omitempty"`
	StepLogs      []bundleStepLog `json:"stepLogs"`
	GeneratedAt   time.Time       `json:"generatedAt"`
}

// StorageExporter writes support bundles as JSON documents to a blob store.
type StorageExporter struct {
	writer storage.Writer
}

func NewStorageExporter(writer storage.Writer) *StorageExporter {
	if writer == nil {
		panic("storage exporter requires writer")
	}
	return &StorageExporter{writer: writer}
}

const supportBundleMarker = "; support bundle: "

// SupportBundleFromDetail extracts the bundle location appended to a failed
// provision's log detail.
func SupportBundleFromDetail(detail *string) (string, bool) {
	if detail == nil {
		return "", false
	}
	i := strings.LastIndex(*detail, supportBundleMarker)
	if i < 0 {
		return "", false
	}
	loc := strings.TrimSpace((*detail)[i+len(supportBundleMarker):])
	return loc, loc != ""
}

// SupportBundleKey is the logical key a provision's bundle is written under.
func SupportBundleKey(provisionID uuid.UUID) string {
	return fmt.Sprintf("support/%s.json", provisionID)
}

func (x *StorageExporter) Export(ctx context.Context, bundle SupportBundle) (string, error) {
	doc := bundleDocument{
		ProvisionID:   bundle.Provision.ID.String(),
		OwnerID:       bundle.Provision.OwnerID,
		ProductType:   string(bundle.Provision.ProductType),
		Status:        string(bundle.Provision.Status),
		StatusDetail:  bundle.Provision.ProvisioningLog,
		Provider:      string(bundle.Provision.ServiceProvider),
		FailedStep:    bundle.FailedStep.Number,
		FailedStepKey: bundle.FailedStep.Key,
		Error:         bundle.Error,
		GeneratedAt:   bundle.GeneratedAt.UTC(),
		StepLogs:      make([]bundleStepLog, 0, len(bundle.StepLogs)),
	}
	if bundle.Provision.TierID != nil {
		tier := bundle.Provision.TierID.String()
		doc.TierID = &tier
	}
	for _, d := range bundle.Domains {
		bd := bundleDomain{Name: d.DomainName, Status: string(d.Status)}
		for _, m := range d.Mailboxes {
			bd.Mailboxes = append(bd.Mailboxes, m.Email)
		}
		doc.Domains = append(doc.Domains, bd)
	}
	for _, l := range bundle.StepLogs {
		doc.StepLogs = append(doc.StepLogs, bundleStepLog{
			Seq:       l.Seq,
			Step:      l.Step,
			Status:    string(l.Status),
			Error:     l.Error,
			Output:    l.Output,
			CreatedAt: l.CreatedAt.UTC(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal support bundle: %w", err)
	}
	loc, err := x.writer.Put(ctx, SupportBundleKey(bundle.Provision.ID), data, "application/json")
	if err != nil {
		return "", err
	}
	return loc.FullPath, nil
}

var _ SupportExporter = (*StorageExporter)(nil)
