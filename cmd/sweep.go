package cmd

import (
	"mondain/app/config"
	"mondain/app/database"
	"mondain/app/logger"
	"mondain/app/service"
	"mondain/app/storage"
	"mondain/app/store"
	"time"

	"github.com/spf13/cobra"
)

var sweepMaxAge time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "立即清理过期的输出文件和归档记录",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if cmd.Flags().Changed("max-age") {
			cfg.Retention.MaxAge = sweepMaxAge
		}

		log := logger.New(cfg.Log)
		defer log.Close()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		files, err := storage.NewManager(cfg.Storage, log)
		if err != nil {
			log.Fatalf("初始化文件目录失败: %v", err)
		}
		if err := files.EnsureDirs(); err != nil {
			log.Fatalf("初始化文件目录失败: %v", err)
		}

		jobStore := store.NewJobStore(cfg.Jobs.TTL, 0, database.GetDB(), log)
		report, err := service.NewRetentionService(cfg.Retention, files, jobStore, log).Sweep()
		if err != nil {
			log.Fatalf("清理失败: %v", err)
		}
		log.Infof("清理完成: 输出文件 %d 个, 归档记录 %d 条", report.Files, report.Records)
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 0, "覆盖 retention.max_age")
	rootCmd.AddCommand(sweepCmd)
}
