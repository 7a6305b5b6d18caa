package server

import (
	"context"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
)

// mappings lists every program, version and protocol the server offers.
func (s *Server) mappings() []rpc.Mapping {
	protos := []uint32{rpc.IPProtoTCP}
	if s.transport.UDP() {
		protos = append(protos, rpc.IPProtoUDP)
	}

	var out []rpc.Mapping
	for _, prot := range protos {
		out = append(out,
			rpc.Mapping{Prog: rpc.ProgramMount, Vers: rpc.MountVersion1, Prot: prot, Port: uint32(s.MountPort())},
			rpc.Mapping{Prog: rpc.ProgramMount, Vers: rpc.MountVersion3, Prot: prot, Port: uint32(s.MountPort())},
			rpc.Mapping{Prog: rpc.ProgramNFS, Vers: rpc.NFSVersion3, Prot: prot, Port: uint32(s.Port())},
		)
	}
	return out
}

// programs returns each (program, version) of mappings once. UNSET
// ignores protocol and port, so it is sent per program version rather
// than per mapping.
func programs(mappings []rpc.Mapping) []rpc.Mapping {
	type pv struct{ prog, vers uint32 }
	seen := make(map[pv]bool)
	var out []rpc.Mapping
	for _, m := range mappings {
		k := pv{m.Prog, m.Vers}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rpc.Mapping{Prog: m.Prog, Vers: m.Vers})
	}
	return out
}

// registerPortmap clears whatever a previous run left behind, then sets
// every mapping. SET refuses to overwrite an existing entry.
func (s *Server) registerPortmap(ctx context.Context) error {
	mappings := s.mappings()
	for _, pv := range programs(mappings) {
		if _, err := s.portmap.Unset(ctx, pv); err != nil {
			return fmt.Errorf("portmapper unset: %w", err)
		}
	}
	for _, m := range mappings {
		ok, err := s.portmap.Set(ctx, m)
		if err != nil {
			return fmt.Errorf("portmapper set: %w", err)
		}
		if !ok {
			return fmt.Errorf("portmapper refused program %d version %d protocol %d port %d",
				m.Prog, m.Vers, m.Prot, m.Port)
		}
		logger.Debug("Registered program %d v%d proto %d on port %d", m.Prog, m.Vers, m.Prot, m.Port)
	}
	return nil
}

func (s *Server) unregisterPortmap(ctx context.Context) {
	for _, pv := range programs(s.mappings()) {
		if _, err := s.portmap.Unset(ctx, pv); err != nil {
			logger.Warn("Portmapper unset of program %d v%d: %v", pv.Prog, pv.Vers, err)
			return
		}
	}
	logger.Debug("Unregistered from portmapper")
}
