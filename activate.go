package shellcache

import (
	"context"
)

// Activate makes the configured generation current and deletes every
// partition that does not belong to it, returning the deleted names.
// It is refused, deleting nothing, while the configured generation is
// neither installed nor already current.
// Activating an already active generation only removes leftover garbage.
func (m *Manager) Activate(ctx context.Context) []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.current != m.generation && !m.installed {
		m.log.Warn().Str("current", m.current).Msg("Generation not installed, refusing to activate")
		return nil
	}
	if previous := m.current; previous != m.generation {
		m.states[previous] = StateOrphaned
		m.log.Info().Str("previous", previous).Msg("Taking over from previous generation")
	}
	m.current = m.generation
	m.states[m.generation] = StateCurrent
	if m.installed {
		m.markActivated()
	}

	names, err := m.store.Names()
	if err != nil {
		m.log.Error().Err(err).Msg("Could not list partitions, nothing deleted")
		return nil
	}
	keep := map[string]bool{
		m.names.shell(m.generation):   true,
		m.names.runtime(m.generation): true,
	}
	deleted := make([]string, 0)
	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.log.Warn().Err(err).Msg("Activation cancelled, garbage left for next activation")
			break
		}
		existed, err := m.store.Delete(name)
		if err != nil {
			m.log.Error().Err(err).Str("partition", name).Msg("Could not delete partition")
			continue
		}
		if gen, ok := m.names.generationOf(name); ok && gen != m.generation {
			m.states[gen] = StateOrphaned
		}
		if existed {
			deleted = append(deleted, name)
		}
	}
	m.log.Info().Strs("deleted", deleted).Msg("Activated generation")
	return deleted
}

// markActivated records the activation in the shell partition, so the next
// manager on the store serves this generation until another is activated.
func (m *Manager) markActivated() {
	shell, err := m.store.Open(m.names.shell(m.generation))
	if err == nil {
		err = mark(shell, activatedKey, m.generation)
	}
	if err != nil {
		m.log.Error().Err(err).Msg("Could not mark generation activated")
	}
}
