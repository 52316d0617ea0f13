// main.go — точка входа Upload Module.
// CLI-агент загрузки судовых документов в compliance-платформу:
//   - upload  — загрузка одного файла с интерактивным прогрессом
//   - batch   — пакетная загрузка нескольких файлов
//   - vessels — список доступных судов
//   - preview — подписанная preview-ссылка для уже загруженного файла
//   - watch   — наблюдение за каталогом спула + status-сервер
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bigkaa/marinedocs/upload-module/internal/api/handlers"
	"github.com/bigkaa/marinedocs/upload-module/internal/api/middleware"
	"github.com/bigkaa/marinedocs/upload-module/internal/apiclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/authclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/config"
	"github.com/bigkaa/marinedocs/upload-module/internal/database"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/session"
	"github.com/bigkaa/marinedocs/upload-module/internal/repository"
	"github.com/bigkaa/marinedocs/upload-module/internal/server"
	"github.com/bigkaa/marinedocs/upload-module/internal/service"
	"github.com/bigkaa/marinedocs/upload-module/internal/validate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env опционален — в контейнере конфигурация приходит из окружения
	_ = godotenv.Load()

	a := &app{}
	rootCmd := newRootCommand(a)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "upload-module: %v\n", err)
		os.Exit(1)
	}
}

// app — общие зависимости команд, инициализируются в PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	api    *apiclient.Client
}

// init загружает конфигурацию и строит клиенты compliance API.
func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}
	a.cfg = cfg
	a.logger = config.SetupLogger(cfg)

	auth, err := authclient.New(cfg.AuthURL, cfg.CACertPath, cfg.APITimeout,
		cfg.ClientID, cfg.ClientSecret, a.logger)
	if err != nil {
		return fmt.Errorf("создание auth-клиента: %w", err)
	}

	a.api, err = apiclient.New(cfg.APIURL, cfg.CACertPath, cfg.APITimeout,
		auth.GetToken, a.logger)
	if err != nil {
		return fmt.Errorf("создание API-клиента: %w", err)
	}
	return nil
}

// openJournal подключает локальный журнал загрузок, если он настроен.
// Возвращает nil-репозиторий при отключённом журнале.
func (a *app) openJournal(ctx context.Context) (repository.JournalRepository, *pgxpool.Pool, error) {
	if !a.cfg.JournalEnabled() {
		a.logger.Info("Журнал загрузок не настроен, дедупликация отключена")
		return nil, nil, nil
	}

	if err := database.Migrate(a.cfg, a.logger); err != nil {
		return nil, nil, fmt.Errorf("миграции журнала: %w", err)
	}
	pool, err := database.Connect(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("подключение к журналу: %w", err)
	}
	return repository.NewJournalRepository(pool), pool, nil
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-module",
		Short: "Агент загрузки судовых документов",
		Long: `Upload Module загружает судовые документы в compliance-платформу:
валидация файла, AI-извлечение метаданных на стороне backend, сверка
и фиксация итоговой формы. Поддерживает одиночный, пакетный и
автоматический (watch) режимы.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	cmd.AddCommand(
		newUploadCmd(a),
		newBatchCmd(a),
		newVesselsCmd(a),
		newPreviewCmd(a),
		newWatchCmd(a),
	)
	return cmd
}

// uploadFlags — переопределения формы из командной строки.
type uploadFlags struct {
	vesselID   string
	title      string
	docType    string
	issuer     string
	number     string
	issueDate  string
	expiryDate string
	permanent  bool
}

// apply накладывает заданные флаги на форму. Пустые флаги не трогают
// значения, предзаполненные AI-извлечением.
func (f *uploadFlags) apply(form *model.FormState) error {
	if f.title != "" {
		form.Title = f.title
	}
	if f.docType != "" {
		form.DocumentType = f.docType
	}
	if f.issuer != "" {
		form.IssuingAuthority = f.issuer
	}
	if f.number != "" {
		form.DocumentNumber = f.number
	}
	if f.issueDate != "" {
		d, err := time.Parse("2006-01-02", f.issueDate)
		if err != nil {
			return fmt.Errorf("--issue-date: ожидается формат YYYY-MM-DD: %w", err)
		}
		form.IssueDate = &d
	}
	if f.expiryDate != "" {
		d, err := time.Parse("2006-01-02", f.expiryDate)
		if err != nil {
			return fmt.Errorf("--expiry-date: ожидается формат YYYY-MM-DD: %w", err)
		}
		form.ExpiryDate = &d
	}
	if f.permanent && !form.PermanentLocked {
		form.IsPermanent = true
	}
	return nil
}

func registerUploadFlags(cmd *cobra.Command, f *uploadFlags) {
	cmd.Flags().StringVar(&f.vesselID, "vessel", "", "Идентификатор судна (обязательный)")
	cmd.Flags().StringVar(&f.title, "title", "", "Заголовок документа (по умолчанию — из AI-извлечения)")
	cmd.Flags().StringVar(&f.docType, "type", "", "Тип документа")
	cmd.Flags().StringVar(&f.issuer, "issuer", "", "Выдавший орган")
	cmd.Flags().StringVar(&f.number, "number", "", "Номер документа/сертификата")
	cmd.Flags().StringVar(&f.issueDate, "issue-date", "", "Дата выдачи (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.expiryDate, "expiry-date", "", "Дата окончания (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&f.permanent, "permanent", false, "Бессрочный документ")
	_ = cmd.MarkFlagRequired("vessel")
}

func newUploadCmd(a *app) *cobra.Command {
	var flags uploadFlags
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Загрузить один документ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			journal, pool, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			file, err := validate.File(args[0])
			if err != nil {
				return err
			}

			sess := session.New()
			if err := sess.SelectFile(flags.vesselID, *file); err != nil {
				return err
			}

			us := service.NewUploadService(a.api, journal, a.logger)
			fmt.Printf("Загрузка %s\n", file.Name)
			err = us.Upload(ctx, sess, func(p int) {
				fmt.Printf("\r  %3d%%", p)
			})
			fmt.Println()
			if err != nil {
				return fmt.Errorf("загрузка: %w (сессия: %s)", err, sess.Err())
			}

			printExtracted(sess.Extracted())

			// Накладываем переопределения из флагов поверх извлечённых значений
			var flagErr error
			if err := sess.UpdateForm(func(form *model.FormState) {
				flagErr = flags.apply(form)
			}); err != nil {
				return err
			}
			if flagErr != nil {
				return flagErr
			}

			form := sess.Form()
			if !form.Complete() {
				return fmt.Errorf("форма неполна, заполните флагами: %s",
					strings.Join(missingFields(form), ", "))
			}

			record, err := us.Commit(ctx, sess)
			if err != nil {
				return fmt.Errorf("фиксация: %w", err)
			}
			fmt.Printf("Документ зафиксирован: %s (%s)\n", record.ID, form.Title)
			return nil
		},
	}
	registerUploadFlags(cmd, &flags)
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var flags uploadFlags
	cmd := &cobra.Command{
		Use:   "batch <file...>",
		Short: "Загрузить несколько документов",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			journal, pool, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			bs := service.NewBatchService(a.api, journal, a.logger)
			for _, path := range args {
				if _, err := bs.Add(ctx, flags.vesselID, path); err != nil {
					if errors.Is(err, service.ErrDuplicateFile) {
						fmt.Printf("  пропуск %s: уже загружен\n", path)
						continue
					}
					fmt.Printf("  отклонён %s: %v\n", path, err)
				}
			}
			if len(bs.Files()) == 0 {
				return errors.New("нет файлов для загрузки")
			}

			processed, err := bs.ProcessAll(ctx)
			if err != nil {
				return fmt.Errorf("обработка очереди: %w", err)
			}
			fmt.Printf("Загружено: %d из %d\n", processed, len(bs.Files()))

			// Флаги применяются ко всем выбранным элементам очереди
			var flagErr error
			bs.ApplyToSelected(func(form *model.FormState) {
				if err := flags.apply(form); err != nil && flagErr == nil {
					flagErr = err
				}
			})
			if flagErr != nil {
				return flagErr
			}

			committed, err := bs.CommitAll(ctx)
			if err != nil {
				return fmt.Errorf("фиксация очереди: %w", err)
			}
			fmt.Printf("Зафиксировано: %d\n", committed)

			for _, f := range bs.Files() {
				line := fmt.Sprintf("  %-12s %s", f.Status, f.File.Name)
				if f.Err != "" {
					line += " — " + f.Err
				}
				if f.Status == model.StatusExtracted {
					line += " — форма неполна: " + strings.Join(missingFields(f.Form), ", ")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	registerUploadFlags(cmd, &flags)
	return cmd
}

func newVesselsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vessels [search]",
		Short: "Список доступных судов",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}

			vessels, err := a.api.ListVessels(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("получение списка судов: %w", err)
			}
			if len(vessels) == 0 {
				fmt.Println("Суда не найдены")
				return nil
			}
			for _, v := range vessels {
				line := fmt.Sprintf("%-36s  %s", v.ID, v.Name)
				if v.IMO != "" {
					line += "  IMO " + v.IMO
				}
				if v.Flag != "" {
					line += "  (" + v.Flag + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file-path>",
		Short: "Подписанная preview-ссылка загруженного файла",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps := service.NewPreviewService(a.cfg.PreviewCacheSize, a.cfg.PreviewCacheTTL, a.api.PreviewURL)
			url, err := ps.URL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("получение preview-ссылки: %w", err)
			}
			fmt.Println(url)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Наблюдение за каталогом спула",
		Long: `Периодически сканирует каталог UM_WATCH_DIR, загружает и фиксирует
новые документы от имени судна UM_WATCH_VESSEL_ID. Параллельно поднимает
status-сервер с health probes, метриками и состоянием очереди.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			if cfg.WatchDir == "" {
				return errors.New("UM_WATCH_DIR: обязательна для watch-режима")
			}

			journal, pool, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			bs := service.NewBatchService(a.api, journal, a.logger)
			ws := service.NewWatchService(bs, cfg.WatchDir, cfg.WatchInterval, cfg.WatchVesselID, a.logger)

			// Мониторинг зависимостей (опционально)
			if cfg.DephealthEnabled {
				// Проверка PostgreSQL через *sql.DB поверх существующего пула;
				// при отключённом журнале зависимость не добавляется
				var db *sql.DB
				if pool != nil {
					db = stdlib.OpenDBFromPool(pool)
					defer db.Close()
				}
				ds, err := service.NewDephealthService("upload-module", cfg.DephealthGroup,
					db, cfg.DatabaseURL(), cfg.APIURL,
					cfg.DephealthCheckInterval, cfg.DephealthIsEntry, a.logger)
				if err != nil {
					return fmt.Errorf("создание dephealth: %w", err)
				}
				if err := ds.Start(ctx); err != nil {
					return fmt.Errorf("запуск dephealth: %w", err)
				}
				defer ds.Stop()
			}

			// Status-сервер
			var pgChecker handlers.ReadinessChecker
			if pool != nil {
				pgChecker = database.NewReadinessChecker(pool)
			}
			healthHandler := handlers.NewHealthHandler(pgChecker)
			statusHandler := handlers.NewStatusHandler(bs, journal, a.logger)
			srv := server.New(cfg, a.logger, healthHandler, statusHandler,
				middleware.MetricsMiddleware(),
				middleware.RequestLogger(a.logger),
			)

			errCh := make(chan error, 2)
			go func() { errCh <- srv.Run(ctx) }()
			go func() { errCh <- ws.Run(ctx) }()

			for i := 0; i < 2; i++ {
				if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		},
	}
}

// printExtracted выводит результат AI-извлечения.
func printExtracted(extracted *model.ExtractedMetadata) {
	if extracted == nil {
		fmt.Println("AI-извлечение не дало метаданных")
		return
	}
	fmt.Println("Извлечённые метаданные:")
	rows := []struct{ label, value string }{
		{"Тип", extracted.DocumentType},
		{"Выдавший орган", extracted.Issuer},
		{"Номер", extracted.DocumentNumber},
		{"Дата выдачи", extracted.IssueDate},
		{"Дата окончания", extracted.ExpiryDate},
	}
	for _, row := range rows {
		if row.value != "" {
			fmt.Printf("  %-16s %s\n", row.label+":", row.value)
		}
	}
}

// missingFields возвращает незаполненные обязательные поля формы.
func missingFields(form model.FormState) []string {
	var missing []string
	if form.Title == "" {
		missing = append(missing, "--title")
	}
	if form.DocumentType == "" {
		missing = append(missing, "--type")
	}
	if form.IssuingAuthority == "" {
		missing = append(missing, "--issuer")
	}
	if form.IssueDate == nil {
		missing = append(missing, "--issue-date")
	}
	if !form.IsPermanent && form.ExpiryDate == nil {
		missing = append(missing, "--expiry-date или --permanent")
	}
	return missing
}
