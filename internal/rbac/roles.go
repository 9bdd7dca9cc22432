package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleCloser     = "closer"
	RoleSuperAdmin = "super_admin"
)

// CampaignOperators may start and stop campaigns.
var CampaignOperators = []string{RoleOwner, RoleAdmin}

// Reassigners may move appointments between closers.
var Reassigners = []string{RoleOwner, RoleAdmin, RoleManager}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
