package signal

import "time"

// Config groups detector parameters, the execution filter and emission limits.
type Config struct {
	EMATouch   EMATouchConfig   `mapstructure:"ema_touch"`
	Momentum   MomentumConfig   `mapstructure:"momentum"`
	Overheat   OverheatConfig   `mapstructure:"overheat"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Filter     FilterConfig     `mapstructure:"filter"`

	Cooldown time.Duration `mapstructure:"cooldown"`
	DailyCap int           `mapstructure:"daily_cap"`
}

// EMATouchConfig configures the pullback-to-EMA entry.
type EMATouchConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	FastEMA           int     `mapstructure:"fast_ema"`
	SlowEMA           int     `mapstructure:"slow_ema"`
	RSIPeriod         int     `mapstructure:"rsi_period"`
	RSIMin            float64 `mapstructure:"rsi_min"`
	RSIMax            float64 `mapstructure:"rsi_max"`
	LevelLookback     int     `mapstructure:"level_lookback"`
	StopBufferPercent float64 `mapstructure:"stop_buffer_percent"`
	TP1R              float64 `mapstructure:"tp1_r"`
	TP2R              float64 `mapstructure:"tp2_r"`
}

// MomentumConfig configures the three-bar momentum pattern.
type MomentumConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	AllowShort        bool    `mapstructure:"allow_short"`
	VolumeWindow      int     `mapstructure:"volume_window"`
	MinGrowth         float64 `mapstructure:"min_growth"`
	StrongGrowth      float64 `mapstructure:"strong_growth"`
	MinVolumeRatio    float64 `mapstructure:"min_volume_ratio"`
	StrongVolumeRatio float64 `mapstructure:"strong_volume_ratio"`
	MinScore          float64 `mapstructure:"min_score"`
	Weights           Weights `mapstructure:"weights"`
	Levels            Percent `mapstructure:"levels"`
	ShortLevels       Percent `mapstructure:"short_levels"`
}

// Weights are the points awarded by each momentum condition.
type Weights struct {
	FirstStep    float64 `mapstructure:"first_step"`
	SecondStep   float64 `mapstructure:"second_step"`
	Growth       float64 `mapstructure:"growth"`
	StrongGrowth float64 `mapstructure:"strong_growth"`
	Volume       float64 `mapstructure:"volume"`
	StrongVolume float64 `mapstructure:"strong_volume"`
}

// Percent describes fixed-percentage stop and targets measured from entry.
type Percent struct {
	StopLoss    float64 `mapstructure:"stop_loss"`
	TakeProfit1 float64 `mapstructure:"take_profit_1"`
	TakeProfit2 float64 `mapstructure:"take_profit_2"`
}

// OverheatConfig configures the pump exhaustion short.
type OverheatConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Bars              int     `mapstructure:"bars"`
	MinGrowth         float64 `mapstructure:"min_growth"`
	StopBufferPercent float64 `mapstructure:"stop_buffer_percent"`
	TP1R              float64 `mapstructure:"tp1_r"`
	TP2R              float64 `mapstructure:"tp2_r"`
}

// SimilarityConfig configures the candle-shape score used on stream candles.
type SimilarityConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	VolumeWindow   int     `mapstructure:"volume_window"`
	MinGrowth      float64 `mapstructure:"min_growth"`
	MaxUpperShadow float64 `mapstructure:"max_upper_shadow"`
	MinScore       float64 `mapstructure:"min_score"`
	Levels         Percent `mapstructure:"levels"`
}

// FilterConfig is the execution/liquidity filter a candidate must pass.
type FilterConfig struct {
	VolumeWindow     int     `mapstructure:"volume_window"`
	MinVolumeRatio   float64 `mapstructure:"min_volume_ratio"`
	MoveBars         int     `mapstructure:"move_bars"`
	MaxMovePercent   float64 `mapstructure:"max_move_percent"`
	MaxSpreadPercent float64 `mapstructure:"max_spread_percent"`
}

// DefaultConfig returns the defaults documented for the bot.
func DefaultConfig() Config {
	return Config{
		EMATouch: EMATouchConfig{
			Enabled:           true,
			FastEMA:           20,
			SlowEMA:           50,
			RSIPeriod:         14,
			RSIMin:            40,
			RSIMax:            60,
			LevelLookback:     10,
			StopBufferPercent: 0.1,
			TP1R:              1.0,
			TP2R:              1.8,
		},
		Momentum: MomentumConfig{
			Enabled:           true,
			AllowShort:        true,
			VolumeWindow:      20,
			MinGrowth:         0.25,
			StrongGrowth:      0.40,
			MinVolumeRatio:    1.5,
			StrongVolumeRatio: 2.0,
			MinScore:          70,
			Weights: Weights{
				FirstStep:    25,
				SecondStep:   25,
				Growth:       25,
				StrongGrowth: 10,
				Volume:       25,
				StrongVolume: 10,
			},
			Levels:      Percent{StopLoss: 0.22, TakeProfit1: 0.35, TakeProfit2: 0.60},
			ShortLevels: Percent{StopLoss: 0.25, TakeProfit1: 0.4, TakeProfit2: 0.8},
		},
		Overheat: OverheatConfig{
			Enabled:           true,
			Bars:              10,
			MinGrowth:         1.0,
			StopBufferPercent: 0.05,
			TP1R:              1.0,
			TP2R:              1.8,
		},
		Similarity: SimilarityConfig{
			Enabled:        true,
			VolumeWindow:   30,
			MinGrowth:      0.25,
			MaxUpperShadow: 0.3,
			MinScore:       70,
			Levels:         Percent{StopLoss: 0.22, TakeProfit1: 0.35, TakeProfit2: 0.60},
		},
		Filter: FilterConfig{
			VolumeWindow:     20,
			MinVolumeRatio:   0.5,
			MoveBars:         3,
			MaxMovePercent:   3.0,
			MaxSpreadPercent: 0.15,
		},
		Cooldown: time.Hour,
		DailyCap: 3,
	}
}
