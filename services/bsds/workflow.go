package bsds

import (
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/permissions"
)

// Workflow décrit le cycle de signatures d'une famille de bordereaux :
// préfixe d'identifiant et séquence ordonnée des étapes. L'union fermée
// sur les 6 familles remplace tout branchement par préfixe de chaîne et
// donne l'exhaustivité à la compilation.
type Workflow struct {
	Prefix string
	Stages []models.SignatureStage
}

var workflows = map[models.BsdKind]Workflow{
	models.KindBSDD: {
		Prefix: "BSD",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageTransport,
			models.StageReception,
			models.StageAcceptation,
			models.StageOperation,
		},
	},
	models.KindBSDA: {
		Prefix: "BSDA",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageWork,
			models.StageTransport,
			models.StageOperation,
		},
	},
	models.KindBSFF: {
		Prefix: "FF",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageTransport,
			models.StageReception,
			models.StageAcceptation,
			models.StageOperation,
		},
	},
	models.KindBSVHU: {
		Prefix: "VHU",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageTransport,
			models.StageOperation,
		},
	},
	models.KindBSDASRI: {
		Prefix: "DASRI",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageTransport,
			models.StageReception,
			models.StageOperation,
		},
	},
	models.KindBSPAOH: {
		Prefix: "PAOH",
		Stages: []models.SignatureStage{
			models.StageEmission,
			models.StageTransport,
			models.StageReception,
			models.StageOperation,
		},
	},
}

// statusForStage est le statut global atteint une fois l'étape signée.
var statusForStage = map[models.SignatureStage]models.BsdStatus{
	models.StageEmission:    models.BsdSignedByProducer,
	models.StageWork:        models.BsdSignedByWorker,
	models.StageTransport:   models.BsdSent,
	models.StageReception:   models.BsdReceived,
	models.StageAcceptation: models.BsdAccepted,
	models.StageOperation:   models.BsdProcessed,
}

// permissionForStage est la permission requise pour signer l'étape.
var permissionForStage = map[models.SignatureStage]permissions.Permission{
	models.StageEmission:    permissions.BsdCanSignEmission,
	models.StageWork:        permissions.BsdCanSignWork,
	models.StageTransport:   permissions.BsdCanSignTransport,
	models.StageReception:   permissions.BsdCanSignReception,
	models.StageAcceptation: permissions.BsdCanSignReception,
	models.StageOperation:   permissions.BsdCanSignOperation,
}

// stageLabels sert aux messages d'erreur.
var stageLabels = map[models.SignatureStage]string{
	models.StageEmission:    "émission",
	models.StageWork:        "travaux",
	models.StageTransport:   "transport",
	models.StageReception:   "réception",
	models.StageAcceptation: "acceptation",
	models.StageOperation:   "traitement",
}

func stageIndex(wf Workflow, stage models.SignatureStage) int {
	for i, s := range wf.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// stageOrgIDs renvoie les établissements habilités à signer l'étape.
// Pour le transport, seul le prochain transporteur non signataire est
// habilité (numérotation 1..N).
func stageOrgIDs(bsd *models.Bsd, stage models.SignatureStage) []string {
	switch stage {
	case models.StageEmission:
		return []string{bsd.EmitterOrgID}
	case models.StageWork:
		return []string{bsd.WorkerOrgID}
	case models.StageTransport:
		if next := nextTransporter(bsd); next != nil {
			return []string{next.OrgID}
		}
		return nil
	default:
		return []string{bsd.DestinationOrgID}
	}
}

// nextTransporter renvoie le premier transporteur déclaré sans signature.
func nextTransporter(bsd *models.Bsd) *models.BsdTransporter {
	signed := map[int]bool{}
	for _, sig := range bsd.Signatures {
		if sig.Stage == models.StageTransport {
			signed[sig.Number] = true
		}
	}
	for i := range bsd.Transporters {
		t := &bsd.Transporters[i]
		if !signed[t.Number] {
			return t
		}
	}
	return nil
}

// stageSigned indique si l'étape compte au moins une signature.
func stageSigned(bsd *models.Bsd, stage models.SignatureStage) bool {
	for _, sig := range bsd.Signatures {
		if sig.Stage == stage {
			return true
		}
	}
	return false
}

// stageComplete indique si l'étape est entièrement signée. Le transport
// n'est complet que lorsque chacun des transporteurs déclarés a signé.
func stageComplete(bsd *models.Bsd, stage models.SignatureStage) bool {
	if stage == models.StageTransport {
		return nextTransporter(bsd) == nil
	}
	return stageSigned(bsd, stage)
}
