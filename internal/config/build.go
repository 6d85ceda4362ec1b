package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/edirooss/supervisor/internal/procmgr"
)

// BuildGroups converts a loaded File into the engine's ProcessGroups
// (§3 "Process Group", §6 "[group:NAME] sections for heterogeneous
// groups"). A program not claimed by any [group.NAME] table becomes its
// own singleton group, named after the program, at its own priority. A
// [group.NAME] table's priority orders that group among the others; the
// programs inside it are ordered within the group by their own priority.
func BuildGroups(f *File, bus *procmgr.EventBus, log *zap.Logger) ([]*procmgr.ProcessGroup, error) {
	claimed := make(map[string]string) // program name -> owning group name

	var groups []*procmgr.ProcessGroup
	for gname, gf := range f.Group {
		var configs []*procmgr.ProcessConfig
		for _, pname := range gf.Programs {
			pf, ok := f.Program[pname]
			if !ok {
				return nil, fmt.Errorf("group %q: unknown program %q", gname, pname)
			}
			claimed[pname] = gname
			pc, err := pf.ToProcessConfig(pname)
			if err != nil {
				return nil, err
			}
			pc.Logger = log
			configs = append(configs, pc)
		}
		groups = append(groups, procmgr.NewProcessGroup(gname, gf.Priority, configs, bus, log))
	}

	for pname, pf := range f.Program {
		if _, ok := claimed[pname]; ok {
			continue
		}
		pc, err := pf.ToProcessConfig(pname)
		if err != nil {
			return nil, err
		}
		pc.Logger = log
		groups = append(groups, procmgr.NewProcessGroup(pname, pc.Priority, []*procmgr.ProcessConfig{pc}, bus, log))
	}

	return groups, nil
}
