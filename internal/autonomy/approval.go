package autonomy

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"

	"github.com/ortelius/pdvd-remediation/model"
)

// IssueApprovalCode generates a one-time approval code and its bcrypt hash.
// Only the hash is persisted; the code is handed to the approver out of band.
func IssueApprovalCode() (code, hash string, err error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	code = base64.URLEncoding.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return code, string(h), nil
}

// VerifyApprovalCode compares a presented code with the stored hash.
func VerifyApprovalCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// HumanOverride records a human correction of an automated approval decision.
// The original decision is referenced, never modified.
func HumanOverride(planID, actor string, human model.HumanDecision, outcome, reason, supersedes string) *model.AutonomousDecision {
	d := model.NewAutonomousDecision(planID, "", model.DecisionApproval, outcome)
	d.HumanDecision = human
	d.DecidedBy = actor
	d.Reasoning = reason
	d.Supersedes = supersedes
	d.Confidence = 1
	return d
}
