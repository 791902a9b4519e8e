package compaction

import (
	"github.com/youssefsiam38/memorypg/types"
)

// Partition splits an active transcript into the compressible prefix and the
// recent tail that is always kept verbatim.
type Partition struct {
	// Compactable is the contiguous range of active messages older than
	// the protected tail, oldest first.
	Compactable []*types.Message

	// Recent is the protected tail of the most recent messages.
	Recent []*types.Message
}

// CanCompact reports whether there is anything to compress.
func (p *Partition) CanCompact() bool {
	return len(p.Compactable) > 0
}

// Partitioner splits active messages at the messages-to-keep boundary.
type Partitioner struct {
	config *Config
}

// NewPartitioner creates a new message partitioner.
func NewPartitioner(config *Config) *Partitioner {
	return &Partitioner{config: config}
}

// Partition splits the active messages, keeping the last MessagesToKeep
// untouched.
func (p *Partitioner) Partition(messages []*types.Message) *Partition {
	keep := p.config.MessagesToKeep
	if len(messages) <= keep {
		return &Partition{Recent: messages}
	}

	split := len(messages) - keep
	return &Partition{
		Compactable: messages[:split],
		Recent:      messages[split:],
	}
}
