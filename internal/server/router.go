package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/internal/auth"
	"github.com/diewo77/go-achats/internal/config"
	"github.com/diewo77/go-achats/internal/handlers"
	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/pdf"
	"github.com/diewo77/go-achats/internal/services"
)

// App regroupe les services construits au bootstrap; le routeur et le
// planificateur de rappels s'appuient dessus.
type App struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Rappels  *services.RappelService
	Demandes *services.DemandeService

	handlers routes
}

// NewApp câble l'ensemble des services sur la base et la configuration.
func NewApp(db *gorm.DB, log *zap.Logger, cfg config.Config) (*App, error) {
	hist := services.NewHistoriqueService(log)
	notifier := services.NewNotificationNotificateur(log)
	budget := services.NewBudgetService(db, log, hist, notifier)
	annuaire := services.NewGormAnnuaire(db)
	mailer := services.NewLogMailer(log)
	store, err := services.NewDiskArtifactStore(cfg.DocumentsDir)
	if err != nil {
		return nil, err
	}
	demandes := services.NewDemandeService(db, log, hist, budget, annuaire, cfg.SeuilN2)
	commandes := services.NewCommandeService(db, log, hist, budget, pdf.NewRenderer(), store, mailer)
	receptions := services.NewReceptionService(db, log, hist, budget)
	rappels := services.NewRappelService(db, log, mailer, cfg.RappelJours)
	queries := services.NewQueryService(db)
	referentiel := services.NewReferentielService(db, hist)

	app := &App{DB: db, Log: log, Rappels: rappels, Demandes: demandes}
	app.handlers = routes{
		auth:        handlers.NewAuthHandler(db),
		demandes:    handlers.NewDemandeHandler(demandes, queries),
		commandes:   handlers.NewCommandeHandler(commandes, store),
		receptions:  handlers.NewReceptionHandler(receptions),
		budgets:     handlers.NewBudgetHandler(budget, queries),
		referentiel: handlers.NewReferentielHandler(referentiel),
		historique:  handlers.NewHistoriqueHandler(db, hist, queries),
	}
	return app, nil
}

type routes struct {
	auth        *handlers.AuthHandler
	demandes    *handlers.DemandeHandler
	commandes   *handlers.CommandeHandler
	receptions  *handlers.ReceptionHandler
	budgets     *handlers.BudgetHandler
	referentiel *handlers.ReferentielHandler
	historique  *handlers.HistoriqueHandler
}

// Handler construit le http.Handler racine avec routes et middlewares.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	// RequireAuth vérifie que l'utilisateur de la session existe toujours.
	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		if err := a.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Limit(1).Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := a.DB.Exec("SELECT 1").Error; err != nil {
			httpx.JSONError(w, http.StatusServiceUnavailable, "degraded", nil)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	a.handlers.auth.Register(mux)

	h := a.handlers
	protect := func(fn http.HandlerFunc) http.Handler {
		return auth.Middleware(auth.RequireAuth(fn))
	}
	getOrPost := func(get, post http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				get(w, r)
			case http.MethodPost:
				post(w, r)
			default:
				w.Header().Set("Allow", "GET,POST")
				httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
			}
		}
	}

	// Demandes d'achat
	mux.Handle("/demandes", protect(h.demandes.Create))
	mux.Handle("/demandes/get", protect(h.demandes.Get))
	mux.Handle("/demandes/lignes", protect(h.demandes.AddLigne))
	mux.Handle("/demandes/lignes/supprimer", protect(h.demandes.RemoveLigne))
	mux.Handle("/demandes/soumettre", protect(h.demandes.Submit))
	mux.Handle("/demandes/valider-n1", protect(h.demandes.ValidateN1))
	mux.Handle("/demandes/valider-n2", protect(h.demandes.ValidateN2))
	mux.Handle("/demandes/valider-n2-admin", protect(h.demandes.ValidateN2AsAdmin))
	mux.Handle("/demandes/refuser", protect(h.demandes.Refuse))
	mux.Handle("/demandes/annuler", protect(h.demandes.Cancel))
	mux.Handle("/demandes/en-attente", protect(h.demandes.Pending))

	// Bons de commande
	mux.Handle("/commandes", protect(h.commandes.Create))
	mux.Handle("/commandes/get", protect(h.commandes.Get))
	mux.Handle("/commandes/lignes", protect(h.commandes.AddLigne))
	mux.Handle("/commandes/emettre", protect(h.commandes.Emit))
	mux.Handle("/commandes/envoyer", protect(h.commandes.Send))
	mux.Handle("/commandes/confirmer", protect(h.commandes.Confirm))
	mux.Handle("/commandes/annuler", protect(h.commandes.Cancel))
	mux.Handle("/commandes/document", protect(h.commandes.Document))

	// Réceptions
	mux.Handle("/receptions", protect(h.receptions.Create))
	mux.Handle("/receptions/get", protect(h.receptions.Get))
	mux.Handle("/receptions/lignes", protect(h.receptions.RecordLigne))
	mux.Handle("/receptions/valider", protect(h.receptions.Validate))
	mux.Handle("/receptions/annuler", protect(h.receptions.Cancel))

	// Budgets
	mux.Handle("/budgets", protect(getOrPost(h.budgets.List, h.budgets.Create)))
	mux.Handle("/budgets/get", protect(h.budgets.Get))
	mux.Handle("/budgets/alertes", protect(h.budgets.Alerts))

	// Référentiel
	mux.Handle("/articles", protect(getOrPost(h.referentiel.ListArticles, h.referentiel.CreateArticle)))
	mux.Handle("/articles/prix", protect(h.referentiel.UpdateArticlePrix))
	mux.Handle("/fournisseurs", protect(getOrPost(h.referentiel.ListFournisseurs, h.referentiel.CreateFournisseur)))
	mux.Handle("/fournisseurs/actif", protect(h.referentiel.SetFournisseurActif))

	// Audit & tableaux de bord
	mux.Handle("/historique", protect(h.historique.ForEntity))
	mux.Handle("/stats", protect(h.historique.Stats))

	return a.withRecover(a.withLogging(mux))
}

func (a *App) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.Log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (a *App) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.Log.Error("panic dans un handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
