package orchestratornode

import (
	contractx "github.com/MLAN1O/atlas/agent/contract"
)

// CapabilitySource is the read side of the capability registry.
type CapabilitySource interface {
	Infos() []contractx.CapabilityInfo
	Lookup(name string) (contractx.CapabilityInfo, bool)
}

// classifyBatch derives the intent of one actions batch. It returns every write
// capability named in the batch; more than one means the request is ambiguous.
func classifyBatch(actions []contractx.CapabilityRequest, caps CapabilitySource) (contractx.Intent, []string) {
	intent := contractx.IntentNone
	var writes []string
	for _, a := range actions {
		info, ok := caps.Lookup(a.Capability)
		if !ok {
			continue
		}
		switch {
		case info.Kind == contractx.KindWrite:
			writes = append(writes, info.Name)
			intent = info.Intent
		case info.Intent == contractx.IntentQuery && intent == contractx.IntentNone:
			intent = contractx.IntentQuery
		}
	}
	if len(writes) > 1 {
		return contractx.IntentAmbiguous, writes
	}
	return intent, writes
}

// mergeIntent keeps the first write intent of the turn; later batches can only
// upgrade a read intent.
func mergeIntent(current string, next contractx.Intent) string {
	if next == contractx.IntentNone || contractx.Intent(current).IsWrite() {
		return current
	}
	return string(next)
}

func isWrite(caps CapabilitySource, name string) bool {
	info, ok := caps.Lookup(name)
	return ok && info.Kind == contractx.KindWrite
}
