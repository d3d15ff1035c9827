package featureflag

type Flag string

const (
	// Rebuilds a brand new tree and node pool every frame instead of clearing
	// and refilling the same tree.
	FlagDisableNodeReuse Flag = "DISABLE_NODE_REUSE"

	// Freezes entities at their spawn position.
	FlagDisableMovement Flag = "DISABLE_MOVEMENT"

	FlagDisableDebugStream Flag = "DISABLE_DEBUG_STREAM"
	FlagDisableSmokeTest   Flag = "DISABLE_SMOKE_TEST"
)
