package txn

import (
	"gorm.io/gorm"

	"github.com/MTES-MCT/trackdechets-sub030/logger"
)

// Tx enveloppe une transaction GORM et accumule des effets de bord
// (indexation, mails) à ne déclencher qu'après le commit. En cas de
// rollback, les callbacks sont abandonnés sans être exécutés.
type Tx struct {
	DB    *gorm.DB
	after []func()
}

// AddAfterCommit enregistre un effet de bord différé jusqu'au commit.
func (t *Tx) AddAfterCommit(fn func()) {
	t.after = append(t.after, fn)
}

// Run exécute fn dans une transaction puis, si le commit réussit, vide la
// liste des callbacks. Leurs erreurs ou paniques sont journalisées mais
// n'affectent jamais le résultat de la mutation principale.
func Run(db *gorm.DB, fn func(tx *Tx) error) error {
	t := &Tx{}
	err := db.Transaction(func(g *gorm.DB) error {
		t.DB = g
		return fn(t)
	})
	if err != nil {
		return err
	}
	for _, cb := range t.after {
		runRecovered(cb)
	}
	return nil
}

func runRecovered(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().WithField("panic", r).Error("panique dans un callback post-commit")
		}
	}()
	fn()
}
