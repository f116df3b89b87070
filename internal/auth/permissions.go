package auth

import "mailvault.org/internal/directory"

const (
	PermGlobalMailboxRead = "GLOBAL_MAILBOX_READ"
	PermTimeUnbound       = "TIME_UNBOUND"
	PermEmailView         = "EMAIL_VIEW"
	PermEmailVerify       = "EMAIL_VERIFY"
	PermEmailSearch       = "EMAIL_SEARCH"
	PermExportEmail       = "EXPORT_EMAIL"
	PermAuditRead         = "AUDIT_READ"
	PermArchiveStore      = "ARCHIVE_STORE"
)

var BuiltinPermissions = []directory.Permission{
	{Code: PermGlobalMailboxRead, Description: "Read every mailbox regardless of department or grants"},
	{Code: PermTimeUnbound, Description: "Ignore grant time windows"},
	{Code: PermEmailView, Description: "View archived email details"},
	{Code: PermEmailVerify, Description: "Verify archived email integrity"},
	{Code: PermEmailSearch, Description: "Search the archive"},
	{Code: PermExportEmail, Description: "Request mailbox exports"},
	{Code: PermAuditRead, Description: "Read and verify the audit ledger"},
	{Code: PermArchiveStore, Description: "Store new email into the archive"},
}

// Step-up role codes. Holders must present a one-time code at login.
const (
	RoleSystemAdmin     = "system_admin"
	RoleComplianceAdmin = "compliance_admin"
	RoleLegalUser       = "legal_user"
)

// DefaultStepUpRoles is used when no step-up roles are configured.
var DefaultStepUpRoles = []string{RoleSystemAdmin, RoleComplianceAdmin, RoleLegalUser}
