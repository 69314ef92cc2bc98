package service

// StepInfo names one step of a product's fixed sequence.
type StepInfo struct {
	Number int
	Key    string
	Name   string
}

const (
	StepCreateWorkspace         = "create_workspace"
	StepPurchaseDomains         = "purchase_domains"
	StepDNSPropagation          = "dns_propagation"
	StepConfigureDMARC          = "configure_dmarc"
	StepCreateMailboxes         = "create_mailboxes"
	StepInfrastructureComplete  = "infrastructure_complete"
	StepCreateOutreachWorkspace = "create_outreach_workspace"
	StepExportMailboxes         = "export_mailboxes"
	StepConfigureWarmup         = "configure_warmup"
	StepCreateLeadList          = "create_lead_list"
	StepOutreachComplete        = "outreach_complete"
)

var emailInfraSteps = []StepInfo{
	{Number: 1, Key: StepCreateWorkspace, Name: "Create workspace account"},
	{Number: 2, Key: StepPurchaseDomains, Name: "Purchase domains"},
	{Number: 3, Key: StepDNSPropagation, Name: "Wait for DNS propagation"},
	{Number: 4, Key: StepConfigureDMARC, Name: "Configure DMARC"},
	{Number: 5, Key: StepCreateMailboxes, Name: "Create mailboxes"},
	{Number: 6, Key: StepInfrastructureComplete, Name: "Mark infrastructure complete"},
}

var outreachToolsSteps = []StepInfo{
	{Number: 1, Key: StepCreateOutreachWorkspace, Name: "Create outreach workspace"},
	{Number: 2, Key: StepExportMailboxes, Name: "Export mailboxes to outreach workspace"},
	{Number: 3, Key: StepConfigureWarmup, Name: "Configure mailbox warmup"},
	{Number: 4, Key: StepCreateLeadList, Name: "Create LinkedIn lead list"},
	{Number: 5, Key: StepOutreachComplete, Name: "Mark outreach complete"},
}

// StepSequence returns a copy of the product's fixed step order.
func StepSequence(product ProductType) []StepInfo {
	var src []StepInfo
	switch product {
	case ProductEmailInfra:
		src = emailInfraSteps
	case ProductOutreachTools:
		src = outreachToolsSteps
	default:
		return nil
	}
	out := make([]StepInfo, len(src))
	copy(out, src)
	return out
}

// ProductTitle is the section heading used for a product's progress.
func ProductTitle(product ProductType) string {
	switch product {
	case ProductEmailInfra:
		return "Email infrastructure"
	case ProductOutreachTools:
		return "Outreach tools"
	default:
		return string(product)
	}
}
