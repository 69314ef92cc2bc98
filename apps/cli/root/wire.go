package root

import (
	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/auth"
	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/bootstrap"
	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/provision"
	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/worker"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(provision.Command())
	Root().AddCommand(worker.Command())
}
