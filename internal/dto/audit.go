package dto

// AuditLogQuery filters the ledger listing and export.
type AuditLogQuery struct {
	ActorID    string `form:"actorId"`
	Action     string `form:"action"`
	TargetType string `form:"targetType"`
	TargetID   string `form:"targetId"`
	StartSeq   int64  `form:"startSeq"`
	EndSeq     int64  `form:"endSeq"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
	Format     string `form:"format"`
}

// VerifyChainQuery bounds a verification run. Zero values mean "from the
// first record" and "to the current head".
type VerifyChainQuery struct {
	StartSeq int64 `form:"startSeq"`
	EndSeq   int64 `form:"endSeq"`
}
