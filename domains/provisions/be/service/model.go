package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProductType identifies one of the two independently purchasable product lines.
type ProductType string

const (
	ProductEmailInfra    ProductType = "email_infra"
	ProductOutreachTools ProductType = "outreach_tools"
)

// Products lists every product type in display order.
var Products = []ProductType{ProductEmailInfra, ProductOutreachTools}

// ParseProductType converts a stored or requested value into a ProductType.
func ParseProductType(s string) (ProductType, error) {
	switch ProductType(s) {
	case ProductEmailInfra, ProductOutreachTools:
		return ProductType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProduct, s)
	}
}

// Status is the provision lifecycle status.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusProvisioning   Status = "provisioning"
	StatusActive         Status = "active"
	StatusFailed         Status = "failed"
)

// ParseStatus converts a stored value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPendingPayment, StatusProvisioning, StatusActive, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown provision status %q", s)
	}
}

// ServiceProvider is the mailbox host for a domain.
type ServiceProvider string

const (
	ProviderGoogle    ServiceProvider = "GOOGLE"
	ProviderMicrosoft ServiceProvider = "MICROSOFT"
)

// ParseServiceProvider accepts GOOGLE or MICROSOFT in any case.
func ParseServiceProvider(s string) (ServiceProvider, error) {
	switch ServiceProvider(strings.ToUpper(strings.TrimSpace(s))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderMicrosoft:
		return ProviderMicrosoft, nil
	default:
		return "", fmt.Errorf("unknown service provider %q", s)
	}
}

type DomainStatus string

const (
	DomainPending   DomainStatus = "pending"
	DomainConnected DomainStatus = "connected"
	DomainActive    DomainStatus = "active"
)

type MailboxStatus string

const (
	MailboxPending MailboxStatus = "pending"
	MailboxActive  MailboxStatus = "active"
)

// StepStatus is the status carried by a step log entry.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Settled reports whether later steps may run after this status.
func (s StepStatus) Settled() bool {
	return s == StepCompleted || s == StepSkipped
}

// Tier is a priced email_infra package.
type Tier struct {
	ID                 uuid.UUID
	Slug               string
	Name               string
	DomainCount        int
	MailboxesPerDomain int
	SetupFeeCents      int64
	MonthlyFeeCents    int64
}

// Provision is one purchased product instance owned by a user.
type Provision struct {
	ID                  uuid.UUID
	OwnerID             string
	ProductType         ProductType
	TierID              *uuid.UUID
	Status              Status
	ServiceProvider     ServiceProvider
	MailboxPattern1     string
	MailboxPattern2     string
	PlusvibeClientEmail *string
	HeyreachListID      *string
	ProvisioningLog     *string
	SubmissionKey       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Domain belongs to exactly one provision and owns its mailboxes.
type Domain struct {
	ID               uuid.UUID
	ProvisionID      uuid.UUID
	DomainName       string
	Status           DomainStatus
	ServiceProvider  ServiceProvider
	DomainPriceCents int64
	Mailboxes        []Mailbox
}

// Mailbox is a generated address on a domain.
type Mailbox struct {
	ID       uuid.UUID
	DomainID uuid.UUID
	Email    string
	Status   MailboxStatus
}

// StepLog is one append-only entry of a provision's step log. Seq orders
// entries; a higher Seq supersedes earlier entries for the same step.
type StepLog struct {
	Seq         int64
	ProvisionID uuid.UUID
	Step        int
	Status      StepStatus
	Error       *string
	Output      map[string]string
	CreatedAt   time.Time
}

// VendorRefs are identifiers returned by outreach vendors.
type VendorRefs struct {
	PlusvibeClientEmail *string
	HeyreachListID      *string
}
