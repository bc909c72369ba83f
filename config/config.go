package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/pancakeswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// EnvPrefix is prepended to every environment variable viper reads
const EnvPrefix = "FLASHARB"

// BSC mainnet tokens the engine was first deployed for
var (
	USDT = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	WBNB = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")

	// DevOwner is the first account of a local development node
	DevOwner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	// UniswapV3FactoryBSC deploys Uniswap V3 pools on BSC
	UniswapV3FactoryBSC = dex.Deployer{
		Address:      uniswap.MainnetFactory,
		InitCodeHash: dex.UniswapV3Factory.InitCodeHash,
	}
)

// Config describes one engine deployment and the venues it trades on
type Config struct {
	Owner    common.Address
	TokenA   common.Address
	TokenB   common.Address
	FeeTier  uint32
	Engine   common.Address // optional; zero means derive from the owner
	Lender   LenderConfig
	VenueA   VenueConfig
	VenueB   VenueConfig
	LogLevel string
	Metrics  metrics.MetricsConfig

	AddressCacheSize int
}

// LenderConfig locates the flash-lending pool family
type LenderConfig struct {
	Deployer   dex.Deployer
	Convention string
}

// VenueConfig locates a venue's router and the deployer of its pools
type VenueConfig struct {
	Router   common.Address
	Deployer dex.Deployer
}

// DefaultConfig returns the USDT/WBNB deployment borrowing from PancakeSwap V3
func DefaultConfig() *Config {
	return &Config{
		Owner:   DevOwner,
		TokenA:  USDT,
		TokenB:  WBNB,
		FeeTier: types.FeeTier001,
		Lender: LenderConfig{
			Deployer:   dex.PancakeSwapV3Deployer,
			Convention: lender.ConventionPancakeV3.String(),
		},
		VenueA: VenueConfig{
			Router:   pancakeswap.MainnetRouter,
			Deployer: dex.PancakeSwapV3Deployer,
		},
		VenueB: VenueConfig{
			Router:   uniswap.MainnetRouter,
			Deployer: UniswapV3FactoryBSC,
		},
		LogLevel: "info",
		Metrics: metrics.MetricsConfig{
			Namespace: metrics.DefaultNamespace,
		},
		AddressCacheSize: dex.DefaultAddressCacheSize,
	}
}

// Flags registers the command line overrides Load understands
func Flags(fs *pflag.FlagSet) {
	fs.String("owner", "", "engine owner address")
	fs.String("token-a", "", "first asset of the lending pool")
	fs.String("token-b", "", "second asset of the lending pool")
	fs.Uint32("fee-tier", 0, "lending pool fee tier in hundredths of a bip")
	fs.String("engine", "", "engine address (default: derived from owner)")
	fs.String("lender-convention", "", "flash callback convention (pancakev3, uniswapv3)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("metrics-namespace", "", "prometheus namespace")
}

// Load merges defaults, a .env file, FLASHARB_* environment variables, the
// config file and flags, in increasing order of precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("flasharb")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("owner", d.Owner.Hex())
	v.SetDefault("token-a", d.TokenA.Hex())
	v.SetDefault("token-b", d.TokenB.Hex())
	v.SetDefault("fee-tier", d.FeeTier)
	v.SetDefault("engine", "")
	v.SetDefault("lender.deployer", d.Lender.Deployer.Address.Hex())
	v.SetDefault("lender.init-code-hash", d.Lender.Deployer.InitCodeHash.Hex())
	v.SetDefault("lender.convention", d.Lender.Convention)
	v.SetDefault("venue-a.router", d.VenueA.Router.Hex())
	v.SetDefault("venue-a.deployer", d.VenueA.Deployer.Address.Hex())
	v.SetDefault("venue-a.init-code-hash", d.VenueA.Deployer.InitCodeHash.Hex())
	v.SetDefault("venue-b.router", d.VenueB.Router.Hex())
	v.SetDefault("venue-b.deployer", d.VenueB.Deployer.Address.Hex())
	v.SetDefault("venue-b.init-code-hash", d.VenueB.Deployer.InitCodeHash.Hex())
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.log", d.Metrics.LogMetrics)
	v.SetDefault("address-cache-size", d.AddressCacheSize)
}

// bindFlags binds only flags the user set, so an empty flag default never
// shadows the file or environment
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := map[string]string{
		"lender-convention": "lender.convention",
		"metrics-namespace": "metrics.namespace",
	}
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key, ok := keys[f.Name]
		if !ok {
			key = f.Name
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func decode(v *viper.Viper) (*Config, error) {
	var problems []string
	addr := func(key string) common.Address {
		s := strings.TrimSpace(v.GetString(key))
		if s == "" {
			return common.Address{}
		}
		if !common.IsHexAddress(s) {
			problems = append(problems, fmt.Sprintf("%s: invalid address %q", key, s))
			return common.Address{}
		}
		return common.HexToAddress(s)
	}
	hash := func(key string) common.Hash {
		s := strings.TrimSpace(v.GetString(key))
		b := common.FromHex(s)
		if len(b) != common.HashLength {
			problems = append(problems, fmt.Sprintf("%s: invalid hash %q", key, s))
			return common.Hash{}
		}
		return common.BytesToHash(b)
	}

	cfg := &Config{
		Owner:   addr("owner"),
		TokenA:  addr("token-a"),
		TokenB:  addr("token-b"),
		FeeTier: v.GetUint32("fee-tier"),
		Engine:  addr("engine"),
		Lender: LenderConfig{
			Deployer: dex.Deployer{
				Address:      addr("lender.deployer"),
				InitCodeHash: hash("lender.init-code-hash"),
			},
			Convention: v.GetString("lender.convention"),
		},
		VenueA: VenueConfig{
			Router: addr("venue-a.router"),
			Deployer: dex.Deployer{
				Address:      addr("venue-a.deployer"),
				InitCodeHash: hash("venue-a.init-code-hash"),
			},
		},
		VenueB: VenueConfig{
			Router: addr("venue-b.router"),
			Deployer: dex.Deployer{
				Address:      addr("venue-b.deployer"),
				InitCodeHash: hash("venue-b.init-code-hash"),
			},
		},
		LogLevel: v.GetString("log-level"),
		Metrics: metrics.MetricsConfig{
			Namespace:  v.GetString("metrics.namespace"),
			LogMetrics: v.GetBool("metrics.log"),
		},
		AddressCacheSize: v.GetInt("address-cache-size"),
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("configuration decoding failed: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errors []string

	if c.Owner == (common.Address{}) {
		errors = append(errors, "owner must be specified")
	}
	if _, err := c.Pair(); err != nil {
		errors = append(errors, fmt.Sprintf("asset pair: %v", err))
	}
	if err := c.Lender.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("lender: %v", err))
	}
	if err := c.VenueA.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("venue A: %v", err))
	}
	if err := c.VenueB.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("venue B: %v", err))
	}
	if c.VenueA.Router != (common.Address{}) && c.VenueA.Router == c.VenueB.Router {
		errors = append(errors, "venue A and venue B must use different routers")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("log_level: %v", err))
	}
	if c.Metrics.Namespace == "" {
		errors = append(errors, "metrics namespace must be specified")
	}
	if c.AddressCacheSize <= 0 {
		errors = append(errors, "address_cache_size must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (l *LenderConfig) Validate() error {
	if err := validateDeployer(l.Deployer); err != nil {
		return err
	}
	if _, err := lender.ParseConvention(l.Convention); err != nil {
		return err
	}
	return nil
}

func (v *VenueConfig) Validate() error {
	if v.Router == (common.Address{}) {
		return fmt.Errorf("router must be specified")
	}
	return validateDeployer(v.Deployer)
}

func validateDeployer(d dex.Deployer) error {
	if d.Address == (common.Address{}) {
		return fmt.Errorf("deployer must be specified")
	}
	if d.InitCodeHash == (common.Hash{}) {
		return fmt.Errorf("init code hash must be specified")
	}
	return nil
}

// Pair returns the sorted asset pair of the lending pool
func (c *Config) Pair() (types.AssetPair, error) {
	return types.NewAssetPair(c.TokenA, c.TokenB, c.FeeTier)
}

// Convention returns the parsed lender callback convention
func (c *Config) Convention() (lender.Convention, error) {
	return lender.ParseConvention(c.Lender.Convention)
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
