package bsds

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/models"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

const (
	emitterOrgID      = "11111111111111"
	workerOrgID       = "22222222222222"
	transporterOrgID  = "33333333333333"
	transporter2OrgID = "44444444444444"
	destinationOrgID  = "55555555555555"
)

type fixture struct {
	s            *Service
	emitter      *models.User
	worker       *models.User
	transporter  *models.User
	transporter2 *models.User
	destination  *models.User
	outsider     *models.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	// Les clés étrangères sont appliquées comme en production, notamment
	// l'auto-référence bsds.grouped_in_id.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewService(db, client, config.Config{})

	f := &fixture{s: s}
	f.emitter = member(t, s, "emetteur@example.org", emitterOrgID)
	f.worker = member(t, s, "travaux@example.org", workerOrgID)
	f.transporter = member(t, s, "transport@example.org", transporterOrgID)
	f.transporter2 = member(t, s, "transport2@example.org", transporter2OrgID)
	f.destination = member(t, s, "destination@example.org", destinationOrgID)

	f.outsider = &models.User{Name: "Tiers", Email: "tiers@example.org"}
	require.NoError(t, s.DB.Create(f.outsider).Error)

	return f
}

func member(t *testing.T, s *Service, email, orgID string) *models.User {
	t.Helper()
	user := models.User{Name: email, Email: email}
	require.NoError(t, s.DB.Create(&user).Error)

	var company models.Company
	if err := s.DB.Where("org_id = ?", orgID).First(&company).Error; err != nil {
		company = models.Company{OrgID: orgID, Name: "Établissement " + orgID, SecurityCode: 5678}
		require.NoError(t, s.DB.Create(&company).Error)
	}
	require.NoError(t, s.DB.Create(&models.CompanyAssociation{
		UserID: user.ID, CompanyID: company.ID, Role: models.RoleMember,
	}).Error)
	return &user
}

func (f *fixture) createBsd(t *testing.T, kind models.BsdKind) *models.Bsd {
	t.Helper()
	input := CreateInput{
		Kind:              kind,
		EmitterOrgID:      emitterOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
	}
	if kind == models.KindBSDA {
		input.WorkerOrgID = workerOrgID
	}
	bsd, err := f.s.Create(context.Background(), f.emitter, input)
	require.NoError(t, err)
	return bsd
}

// signerFor associe chaque étape à l'utilisateur habilité de la fixture.
func (f *fixture) signerFor(stage models.SignatureStage) *models.User {
	switch stage {
	case models.StageEmission:
		return f.emitter
	case models.StageWork:
		return f.worker
	case models.StageTransport:
		return f.transporter
	default:
		return f.destination
	}
}

func TestCreateAssignsKindPrefix(t *testing.T) {
	f := setup(t)

	prefixes := map[models.BsdKind]string{
		models.KindBSDD:    "BSD-",
		models.KindBSDA:    "BSDA-",
		models.KindBSFF:    "FF-",
		models.KindBSVHU:   "VHU-",
		models.KindBSDASRI: "DASRI-",
		models.KindBSPAOH:  "PAOH-",
	}
	for kind, prefix := range prefixes {
		bsd := f.createBsd(t, kind)
		assert.Truef(t, len(bsd.ID) > len(prefix) && bsd.ID[:len(prefix)] == prefix,
			"identifiant %s attendu avec le préfixe %s", bsd.ID, prefix)
		assert.Equal(t, models.BsdInitial, bsd.Status)
		require.Len(t, bsd.Transporters, 1)
		assert.Equal(t, 1, bsd.Transporters[0].Number)
	}
}

func TestSignMonotonicity(t *testing.T) {
	f := setup(t)

	for kind, wf := range workflows {
		t.Run(string(kind), func(t *testing.T) {
			// Signer une étape avant les précédentes échoue en nommant la
			// première étape manquante.
			for i := 1; i < len(wf.Stages); i++ {
				bsd := f.createBsd(t, kind)
				_, err := f.s.Sign(context.Background(), f.signerFor(wf.Stages[i]), SignInput{
					BsdID:  bsd.ID,
					Stage:  wf.Stages[i],
					Author: "Testeur",
				})
				var userInput *utils.UserInputError
				require.ErrorAs(t, err, &userInput)
				assert.Contains(t, userInput.Message, stageLabels[wf.Stages[0]])
			}

			// Dans l'ordre, chaque étape passe et le statut final est
			// PROCESSED.
			bsd := f.createBsd(t, kind)
			for _, stage := range wf.Stages {
				signed, err := f.s.Sign(context.Background(), f.signerFor(stage), SignInput{
					BsdID:  bsd.ID,
					Stage:  stage,
					Author: "Testeur",
				})
				require.NoError(t, err)
				assert.Equal(t, statusForStage[stage], signed.Status)
			}

			var final models.Bsd
			require.NoError(t, f.s.DB.First(&final, "id = ?", bsd.ID).Error)
			assert.Equal(t, models.BsdProcessed, final.Status)
		})
	}
}

func TestSignStageOnlyOnce(t *testing.T) {
	f := setup(t)
	bsd := f.createBsd(t, models.KindBSDD)

	_, err := f.s.Sign(context.Background(), f.emitter, SignInput{
		BsdID: bsd.ID, Stage: models.StageEmission, Author: "Testeur",
	})
	require.NoError(t, err)

	// Aucune annulation ni re-signature possible.
	_, err = f.s.Sign(context.Background(), f.emitter, SignInput{
		BsdID: bsd.ID, Stage: models.StageEmission, Author: "Testeur",
	})
	var userInput *utils.UserInputError
	require.ErrorAs(t, err, &userInput)
	assert.Contains(t, userInput.Message, "déjà été signée")
}

func TestSignPermission(t *testing.T) {
	f := setup(t)
	bsd := f.createBsd(t, models.KindBSDD)

	_, err := f.s.Sign(context.Background(), f.outsider, SignInput{
		BsdID: bsd.ID, Stage: models.StageEmission, Author: "Intrus",
	})
	var forbidden *utils.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestSignSecurityCodeFallback(t *testing.T) {
	f := setup(t)
	bsd := f.createBsd(t, models.KindBSDD)

	// Sans compte rattaché mais avec le code signature de l'émetteur.
	code := 5678
	signed, err := f.s.Sign(context.Background(), f.outsider, SignInput{
		BsdID:        bsd.ID,
		Stage:        models.StageEmission,
		Author:       "Chauffeur",
		SecurityCode: &code,
	})
	require.NoError(t, err)
	assert.Equal(t, models.BsdSignedByProducer, signed.Status)

	// Un mauvais code restitue l'erreur de permission d'origine.
	bsd2 := f.createBsd(t, models.KindBSDD)
	wrong := 9999
	_, err = f.s.Sign(context.Background(), f.outsider, SignInput{
		BsdID:        bsd2.ID,
		Stage:        models.StageEmission,
		Author:       "Chauffeur",
		SecurityCode: &wrong,
	})
	var forbidden *utils.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestMultiTransporter(t *testing.T) {
	f := setup(t)

	bsd, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDD,
		EmitterOrgID:      emitterOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID, transporter2OrgID},
	})
	require.NoError(t, err)

	_, err = f.s.Sign(context.Background(), f.emitter, SignInput{
		BsdID: bsd.ID, Stage: models.StageEmission, Author: "Émetteur",
	})
	require.NoError(t, err)

	// Le second transporteur ne peut pas signer avant le premier.
	_, err = f.s.Sign(context.Background(), f.transporter2, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T2",
	})
	var forbidden *utils.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, err = f.s.Sign(context.Background(), f.transporter, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T1",
	})
	require.NoError(t, err)

	signed, err := f.s.Sign(context.Background(), f.transporter2, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BsdSent, signed.Status)

	// Tous les transporteurs ont signé.
	_, err = f.s.Sign(context.Background(), f.transporter2, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T2",
	})
	var userInput *utils.UserInputError
	require.ErrorAs(t, err, &userInput)
	assert.Contains(t, userInput.Message, "transporteurs")
}

func TestGroupingLinksChildren(t *testing.T) {
	f := setup(t)

	child := f.createBsd(t, models.KindBSDA)
	parent, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDA,
		EmitterOrgID:      emitterOrgID,
		WorkerOrgID:       workerOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
		GroupingIDs:       []string{child.ID},
	})
	require.NoError(t, err)

	var linked models.Bsd
	require.NoError(t, f.s.DB.First(&linked, "id = ?", child.ID).Error)
	require.NotNil(t, linked.GroupedInID)
	assert.Equal(t, parent.ID, *linked.GroupedInID)
}

func TestReceptionRequiresAllTransporters(t *testing.T) {
	f := setup(t)

	bsd, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDD,
		EmitterOrgID:      emitterOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID, transporter2OrgID},
	})
	require.NoError(t, err)

	_, err = f.s.Sign(context.Background(), f.emitter, SignInput{
		BsdID: bsd.ID, Stage: models.StageEmission, Author: "Émetteur",
	})
	require.NoError(t, err)
	_, err = f.s.Sign(context.Background(), f.transporter, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T1",
	})
	require.NoError(t, err)

	// Tant que le second transporteur n'a pas signé, la réception reste
	// fermée.
	_, err = f.s.Sign(context.Background(), f.destination, SignInput{
		BsdID: bsd.ID, Stage: models.StageReception, Author: "Destinataire",
	})
	var userInput *utils.UserInputError
	require.ErrorAs(t, err, &userInput)
	assert.Contains(t, userInput.Message, stageLabels[models.StageTransport])

	_, err = f.s.Sign(context.Background(), f.transporter2, SignInput{
		BsdID: bsd.ID, Stage: models.StageTransport, Author: "T2",
	})
	require.NoError(t, err)

	signed, err := f.s.Sign(context.Background(), f.destination, SignInput{
		BsdID: bsd.ID, Stage: models.StageReception, Author: "Destinataire",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BsdReceived, signed.Status)
}

func TestOperationOnGroupedBsdFails(t *testing.T) {
	f := setup(t)

	child := f.createBsd(t, models.KindBSDA)
	parent, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDA,
		EmitterOrgID:      emitterOrgID,
		WorkerOrgID:       workerOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
		GroupingIDs:       []string{child.ID},
	})
	require.NoError(t, err)
	_ = parent

	for _, stage := range []models.SignatureStage{
		models.StageEmission, models.StageWork, models.StageTransport,
	} {
		_, err := f.s.Sign(context.Background(), f.signerFor(stage), SignInput{
			BsdID: child.ID, Stage: stage, Author: "Testeur",
		})
		require.NoError(t, err)
	}

	// Un bordereau regroupé ne se traite pas indépendamment.
	_, err = f.s.Sign(context.Background(), f.destination, SignInput{
		BsdID: child.ID, Stage: models.StageOperation, Author: "Testeur",
	})
	var userInput *utils.UserInputError
	require.ErrorAs(t, err, &userInput)
	assert.Contains(t, userInput.Message, "regroupé")
}

func TestGroupingRejectsDoubleGrouping(t *testing.T) {
	f := setup(t)

	child := f.createBsd(t, models.KindBSDA)
	input := CreateInput{
		Kind:              models.KindBSDA,
		EmitterOrgID:      emitterOrgID,
		WorkerOrgID:       workerOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
		GroupingIDs:       []string{child.ID},
	}
	_, err := f.s.Create(context.Background(), f.emitter, input)
	require.NoError(t, err)

	_, err = f.s.Create(context.Background(), f.emitter, input)
	var userInput *utils.UserInputError
	require.ErrorAs(t, err, &userInput)
	assert.Contains(t, userInput.Message, "déjà regroupé")
}

func TestDeleteClearsSiblingReferences(t *testing.T) {
	f := setup(t)

	child := f.createBsd(t, models.KindBSDA)
	parent, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDA,
		EmitterOrgID:      emitterOrgID,
		WorkerOrgID:       workerOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
		GroupingIDs:       []string{child.ID},
	})
	require.NoError(t, err)

	require.NoError(t, f.s.Delete(context.Background(), f.emitter, parent.ID))

	var deleted models.Bsd
	require.NoError(t, f.s.DB.First(&deleted, "id = ?", parent.ID).Error)
	assert.True(t, deleted.IsDeleted)

	var orphan models.Bsd
	require.NoError(t, f.s.DB.First(&orphan, "id = ?", child.ID).Error)
	assert.Nil(t, orphan.GroupedInID)

	// Le bordereau supprimé n'est plus résolu.
	_, err = f.s.Get(context.Background(), f.emitter, parent.ID)
	var notFound *utils.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteGroupedChildFails(t *testing.T) {
	f := setup(t)

	child := f.createBsd(t, models.KindBSDA)
	_, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDA,
		EmitterOrgID:      emitterOrgID,
		WorkerOrgID:       workerOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
		GroupingIDs:       []string{child.ID},
	})
	require.NoError(t, err)

	err = f.s.Delete(context.Background(), f.emitter, child.ID)
	var userInput *utils.UserInputError
	assert.ErrorAs(t, err, &userInput)
}

func TestDraftVisibility(t *testing.T) {
	f := setup(t)

	bsd, err := f.s.Create(context.Background(), f.emitter, CreateInput{
		Kind:              models.KindBSDD,
		IsDraft:           true,
		EmitterOrgID:      emitterOrgID,
		DestinationOrgID:  destinationOrgID,
		TransporterOrgIDs: []string{transporterOrgID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{emitterOrgID}, []string(bsd.CanAccessDraftOrgIDs))

	// Visible pour le créateur.
	_, err = f.s.Get(context.Background(), f.emitter, bsd.ID)
	require.NoError(t, err)

	// Invisible pour le destinataire tant que le brouillon n'est pas
	// publié : il n'existe pas.
	_, err = f.s.Get(context.Background(), f.destination, bsd.ID)
	var notFound *utils.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
