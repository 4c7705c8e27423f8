package cmd

import (
	"fmt"
	"sort"

	"github.com/bnema/hookd/internal/config"
	"github.com/bnema/hookd/internal/input"
	"github.com/bnema/hookd/internal/logger"
	"github.com/bnema/hookd/internal/ui"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var selectDevices bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List input devices",
	Long: `List the input devices the configured backend can see, with the category
hookd puts them in and whether the include/exclude filter keeps them.

With --select, pick the devices to use interactively; the choice is saved as
devices.include in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		backend, err := input.NewBackend(cfg.Backend.Name, input.BackendOptions{DeviceDir: cfg.Backend.DeviceDir})
		if err != nil {
			return err
		}
		rows, err := surveyDevices(backend, cfg)
		if err != nil {
			return err
		}

		if selectDevices {
			return selectDeviceFilter(rows)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderDevices(backend.Name(), rows))
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVarP(&selectDevices, "select", "s", false, "Interactively choose the devices to use")
	rootCmd.AddCommand(devicesCmd)
}

// surveyDevices enumerates and classifies every device, skipping our own
// virtual output
func surveyDevices(backend input.Backend, cfg *config.Config) ([]ui.DeviceRow, error) {
	descs, err := backend.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}

	filter := input.RegistryOptions{Include: cfg.Devices.Include, Exclude: cfg.Devices.Exclude}
	rows := make([]ui.DeviceRow, 0, len(descs))
	for _, d := range descs {
		category, err := input.Inspect(backend, d, cfg.Backend.VirtualName)
		if err != nil {
			logger.Debug("Cannot open device", "device", d.Path, "error", err)
			category = input.CategoryOther
		}
		if category == input.CategorySelf {
			continue
		}
		rows = append(rows, ui.DeviceRow{
			Path:     d.Path,
			Name:     d.Name,
			Category: category.String(),
			ID:       fmt.Sprintf("%04x:%04x", d.Vendor, d.Product),
			Phys:     d.Phys,
			Included: filter.Allows(d),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	return rows, nil
}

// selectDeviceFilter asks which devices to use and saves their names as
// the include list. Selecting nothing clears the filter.
func selectDeviceFilter(rows []ui.DeviceRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("no input devices found")
	}

	options := make([]huh.Option[string], 0, len(rows))
	seen := make(map[string]bool)
	for _, r := range rows {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		label := fmt.Sprintf("%s (%s, %s)", r.Name, r.Category, r.Path)
		options = append(options, huh.NewOption(label, r.Name).Selected(r.Included && len(config.Get().Devices.Include) > 0))
	}

	var selected []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select Input Devices").
				Description("hookd only opens the devices you select. Select none to use all of them.").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("device selection cancelled: %w", err)
	}

	if err := config.SetDeviceFilter(selected); err != nil {
		return fmt.Errorf("failed to save device selection: %w", err)
	}

	if len(selected) == 0 {
		fmt.Println(ui.SuccessStyle.Render(ui.IconSuccess) + " Device filter cleared, all devices will be used")
	} else {
		fmt.Printf("%s Saved %d device%s to %s\n", ui.SuccessStyle.Render(ui.IconSuccess), len(selected), plural(len(selected)), config.GetConfigPath())
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
