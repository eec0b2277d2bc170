package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backkem/bluenet/pkg/keystore"
)

var keysSeal bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage sphere keys",
	Long: `Manage the sphere key file.

The file is YAML with hex encoded keys:

  version: 1
  spheres:
    - reference: home
      sphere_uid: 3
      admin_key: 00112233445566778899aabbccddeeff
      member_key: ...
      guest_key: ...
      service_data_key: ...

When BLUENET_PASSPHRASE is set (or --seal is given to import) the sphere list
is sealed with the passphrase.`,
}

var keysImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import spheres from an unsealed key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		spheres, err := keystore.NewFileStore(args[0], nil).LoadSpheres()
		if err != nil {
			return err
		}
		if len(spheres) == 0 {
			return fmt.Errorf("%s holds no spheres", args[0])
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if keysSeal {
			pass, err := readSecret(passphraseEnv, "New key file passphrase: ")
			if err != nil {
				return err
			}
			store = keystore.NewFileStore(cfg.Keys.Path, []byte(pass))
		}
		for _, s := range spheres {
			if err := store.SaveSphere(s); err != nil {
				return fmt.Errorf("save sphere %q: %w", s.ReferenceID, err)
			}
			fmt.Printf("Imported %s\n", s.ReferenceID)
		}
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored spheres",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		spheres, err := store.LoadSpheres()
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", store.Path())
		for _, s := range spheres {
			fmt.Printf("  %-20s uid=%-3d %s\n", s.ReferenceID, s.SphereUID, keyLevels(s))
		}
		return nil
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <reference>",
	Short: "Remove a sphere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		return store.DeleteSphere(args[0])
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysImportCmd, keysListCmd, keysDeleteCmd)
	keysImportCmd.Flags().BoolVar(&keysSeal, "seal", false, "Seal the key file with a passphrase")
}

// keyLevels names the keys a sphere holds.
func keyLevels(s *keystore.Sphere) string {
	out := ""
	for _, k := range []struct {
		name string
		key  []byte
	}{
		{"admin", s.AdminKey},
		{"member", s.MemberKey},
		{"guest", s.GuestKey},
		{"service-data", s.ServiceDataKey},
	} {
		if len(k.key) == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += k.name
	}
	if out == "" {
		return "(no keys)"
	}
	return out
}
