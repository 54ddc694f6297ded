package main

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags; store settings default to the server's
// environment.
type Options struct {
	Backend  string `long:"backend" env:"STORE_BACKEND" default:"file" description:"store backend: file, bolt, afs or postgres"`
	Path     string `long:"path" env:"STORE_PATH" default:"data" description:"file root or bolt database path"`
	URL      string `long:"url" env:"STORE_URL" description:"afs base URL (file://, mem://, s3://, gs://)"`
	DB       string `long:"db" env:"DB_URL" description:"postgres connection string"`
	TimeZone string `long:"tz" env:"TIME_ZONE" default:"Asia/Tokyo" description:"zone days are computed in"`

	Days  DaysCmd  `command:"days" description:"List days that hold turns"`
	Show  ShowCmd  `command:"show" description:"Print the turns of one day"`
	Pin   PinCmd   `command:"pin" description:"Exempt a day from retention"`
	Unpin UnpinCmd `command:"unpin" description:"Remove a day's retention exemption"`
	Sweep SweepCmd `command:"sweep" description:"Delete days older than the retention threshold"`
}
