package inject

import (
	"context"
	"fmt"

	"github.com/samber/do"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/api"
	"github.com/SanishKumar/comfy-service/internal/comfyui"
	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/generator"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/records"
	"github.com/SanishKumar/comfy-service/internal/storage"
	"github.com/SanishKumar/comfy-service/internal/workflow"
)

// Setup registers every service component
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	logger := config.NewLogger()

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
	})

	do.ProvideValue[*config.Config](injector, cfg)
	do.ProvideValue[*logrus.Logger](injector, logger)

	do.Provide[interfaces.ComfyUIClient](injector, func(i *do.Injector) (interfaces.ComfyUIClient, error) {
		return comfyui.NewClient(do.MustInvoke[*config.Config](i).Backend), nil
	})
	do.Provide[*workflow.Builder](injector, func(i *do.Injector) (*workflow.Builder, error) {
		return workflow.NewBuilder(Settings(do.MustInvoke[*config.Config](i).Workflow)), nil
	})
	do.Provide[interfaces.ImageStore](injector, func(i *do.Injector) (interfaces.ImageStore, error) {
		return storage.NewFactory().CreateStore(ctx, do.MustInvoke[*config.Config](i).Output)
	})
	do.Provide[*records.Manager](injector, func(i *do.Injector) (*records.Manager, error) {
		return records.NewManager(do.MustInvoke[*config.Config](i).Redis), nil
	})
	do.Provide[*generator.Service](injector, func(i *do.Injector) (*generator.Service, error) {
		return generator.NewService(
			do.MustInvoke[interfaces.ComfyUIClient](i),
			do.MustInvoke[*workflow.Builder](i),
			do.MustInvoke[*config.Config](i).Backend,
		), nil
	})
	do.Provide[*api.Handler](injector, func(i *do.Injector) (*api.Handler, error) {
		imageStore, err := do.Invoke[interfaces.ImageStore](i)
		if err != nil {
			return nil, err
		}
		return api.NewHandler(
			do.MustInvoke[*generator.Service](i),
			do.MustInvoke[interfaces.ComfyUIClient](i),
			imageStore,
			do.MustInvoke[*records.Manager](i),
		), nil
	})

	return injector
}

// Settings maps workflow configuration onto template settings
func Settings(cfg config.WorkflowConfig) workflow.Settings {
	s := workflow.DefaultSettings()
	s.Checkpoint = cfg.Checkpoint
	s.Steps = cfg.Steps
	s.CFG = cfg.CFG
	s.SamplerName = cfg.SamplerName
	s.Scheduler = cfg.Scheduler
	s.Width = cfg.Width
	s.Height = cfg.Height
	s.FilenamePrefix = cfg.FilenamePrefix
	return s
}
