package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BsdKind est l'une des 6 familles de bordereaux de suivi de déchets.
type BsdKind string

const (
	KindBSDD    BsdKind = "BSDD"
	KindBSDA    BsdKind = "BSDA"
	KindBSFF    BsdKind = "BSFF"
	KindBSVHU   BsdKind = "BSVHU"
	KindBSDASRI BsdKind = "BSDASRI"
	KindBSPAOH  BsdKind = "BSPAOH"
)

// AllBsdKinds liste les familles dans un ordre stable.
var AllBsdKinds = []BsdKind{KindBSDD, KindBSDA, KindBSFF, KindBSVHU, KindBSDASRI, KindBSPAOH}

type BsdStatus string

const (
	BsdInitial          BsdStatus = "INITIAL"
	BsdSignedByProducer BsdStatus = "SIGNED_BY_PRODUCER"
	BsdSignedByWorker   BsdStatus = "SIGNED_BY_WORKER"
	BsdSent             BsdStatus = "SENT"
	BsdReceived         BsdStatus = "RECEIVED"
	BsdAccepted         BsdStatus = "ACCEPTED"
	BsdRefused          BsdStatus = "REFUSED"
	BsdProcessed        BsdStatus = "PROCESSED"
	BsdNoTraceability   BsdStatus = "NO_TRACEABILITY"
	BsdAwaitingGroup    BsdStatus = "AWAITING_GROUP"
)

// SignatureStage est une étape de signature du cycle de vie d'un bordereau.
// Chaque famille de bordereau n'utilise qu'un sous-ensemble ordonné.
type SignatureStage string

const (
	StageEmission    SignatureStage = "EMISSION"
	StageWork        SignatureStage = "WORK"
	StageTransport   SignatureStage = "TRANSPORT"
	StageReception   SignatureStage = "RECEPTION"
	StageAcceptation SignatureStage = "ACCEPTATION"
	StageOperation   SignatureStage = "OPERATION"
)

// Bsd est un bordereau de suivi de déchets, toutes familles confondues.
// L'identifiant est préfixé par la famille (ex: BSDA-<uuid>).
type Bsd struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      BsdKind   `gorm:"index" json:"kind"`
	Status    BsdStatus `json:"status"`
	IsDraft   bool      `json:"is_draft"`
	IsDeleted bool      `gorm:"index" json:"is_deleted"`

	EmitterOrgID     string `json:"emitter_org_id"`
	WorkerOrgID      string `json:"worker_org_id,omitempty"`
	DestinationOrgID string `json:"destination_org_id"`

	// Champs déclaratifs amendables par demande de révision.
	WasteCode string  `json:"waste_code"`
	Quantity  float64 `json:"quantity"`
	Cap       string  `json:"cap,omitempty"`

	// CanAccessDraftOrgIDs restreint la visibilité d'un brouillon aux
	// établissements du créateur figurant sur le bordereau.
	CanAccessDraftOrgIDs datatypes.JSONSlice[string] `json:"can_access_draft_org_ids,omitempty"`

	// GroupedInID pointe vers le bordereau de regroupement aval.
	GroupedInID *string `gorm:"index" json:"grouped_in_id,omitempty"`
	// ForwardingID pointe vers le bordereau initial réexpédié après
	// entreposage provisoire.
	ForwardingID *string `gorm:"index" json:"forwarding_id,omitempty"`

	Grouping []Bsd `gorm:"foreignKey:GroupedInID" json:"-"`

	Transporters []BsdTransporter `json:"transporters,omitempty"`
	Signatures   []BsdSignature   `json:"signatures,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BsdTransporter est un transporteur déclaré sur un bordereau,
// numéroté dans l'ordre de prise en charge (1..N).
type BsdTransporter struct {
	gorm.Model
	BsdID  string `gorm:"index;uniqueIndex:idx_bsd_transporter_number" json:"bsd_id"`
	OrgID  string `json:"org_id"`
	Number int    `gorm:"uniqueIndex:idx_bsd_transporter_number" json:"number"`
}

// BsdSignature est l'enregistrement immuable d'une étape signée.
// Unique par (bordereau, étape, numéro) : une étape ne se signe qu'une fois.
type BsdSignature struct {
	gorm.Model
	BsdID string         `gorm:"index;uniqueIndex:idx_bsd_stage_number" json:"bsd_id"`
	Stage SignatureStage `gorm:"uniqueIndex:idx_bsd_stage_number" json:"stage"`
	// Number distingue les signatures transport multimodales ; 0 sinon.
	Number   int       `gorm:"uniqueIndex:idx_bsd_stage_number" json:"number"`
	AuthorID uint      `json:"author_id"`
	Author   string    `json:"author"`
	SignedAt time.Time `json:"signed_at"`
}
