// Package allocator picks the cell handed out by a new reservation.
//
// Hosts are ranked by how many of their cells are still free, most first, and
// the first host that answers a liveness probe supplies a random free cell.
package allocator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/rs/zerolog/log"
)

// Server is a hosting machine with the subset of its cells that are available.
type Server struct {
	Host  string
	Cells []string
}

// Available is the server's availability count.
func (s Server) Available() int {
	return len(s.Cells)
}

// Allocator selects cells for new reservations.
type Allocator struct {
	prober Prober
	intn   func(n int) int
}

// New returns an allocator that probes with prober and picks cells uniformly at random.
func New(prober Prober) *Allocator {
	return NewWithRand(prober, rand.IntN)
}

// NewWithRand is New with an explicit source for the in-host cell pick.
func NewWithRand(prober Prober, intn func(n int) int) *Allocator {
	return &Allocator{prober: prober, intn: intn}
}

// Select returns the cell for a new reservation.
// available must be in catalog order; it breaks ties between equally free hosts.
func (a *Allocator) Select(ctx context.Context, available []catalog.Cell, hint string) (string, error) {
	if len(available) == 0 {
		return "", fmt.Errorf("%w: no cells are presently available", fault.ErrExhausted)
	}

	if hint != "" {
		for _, cell := range available {
			if cell.Name == hint {
				log.Debug().Str("cell", hint).Msg("allocator.Allocator.Select pinned")
				return hint, nil
			}
		}
	}

	for _, server := range RankServers(available) {
		if !a.prober.Probe(ctx, server.Host) {
			log.Warn().Str("host", server.Host).Msg("allocator.Allocator.Select host unreachable")
			continue
		}
		cell := server.Cells[a.intn(len(server.Cells))]
		log.Debug().
			Str("host", server.Host).
			Int("available", server.Available()).
			Str("cell", cell).
			Msg("allocator.Allocator.Select chose")
		return cell, nil
	}
	return "", fmt.Errorf("%w: unable to find available cell: no hosting server reachable", fault.ErrExhausted)
}

// RankServers groups cells by host and orders hosts by descending availability count.
// Hosts with equal counts keep the order in which they first appear in available.
func RankServers(available []catalog.Cell) []Server {
	index := make(map[string]int)
	servers := make([]Server, 0)
	for _, cell := range available {
		i, ok := index[cell.Host]
		if !ok {
			i = len(servers)
			index[cell.Host] = i
			servers = append(servers, Server{Host: cell.Host})
		}
		servers[i].Cells = append(servers[i].Cells, cell.Name)
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Available() > servers[j].Available()
	})
	return servers
}
