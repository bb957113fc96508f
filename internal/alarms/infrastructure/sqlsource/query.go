package sqlsource

import (
	"fmt"
	"regexp"
	"strings"

	"alarm-sync/internal/sqldb"
)

// Mapping names the source tables. Empty fields take the ZMC defaults.
type Mapping struct {
	InstanceTable string `yaml:"instance_table" json:"instance_table"`
	EventTable    string `yaml:"event_table" json:"event_table"`
	CodeLibTable  string `yaml:"code_lib_table" json:"code_lib_table"`
	AppEnvTable   string `yaml:"app_env_table" json:"app_env_table"`
	DeviceTable   string `yaml:"device_table" json:"device_table"`
	DomainTable   string `yaml:"domain_table" json:"domain_table"`
}

// DefaultMapping returns the ZMC table names.
func DefaultMapping() Mapping {
	return Mapping{
		InstanceTable: "NM_ALARM_CDR",
		EventTable:    "NM_ALARM_EVENT",
		CodeLibTable:  "NM_ALARM_CODE_LIB",
		AppEnvTable:   "APP_ENV",
		DeviceTable:   "DEVICE",
		DomainTable:   "SYS_DOMAIN",
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (m Mapping) withDefaults() Mapping {
	def := DefaultMapping()
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return strings.TrimSpace(v)
	}
	return Mapping{
		InstanceTable: pick(m.InstanceTable, def.InstanceTable),
		EventTable:    pick(m.EventTable, def.EventTable),
		CodeLibTable:  pick(m.CodeLibTable, def.CodeLibTable),
		AppEnvTable:   pick(m.AppEnvTable, def.AppEnvTable),
		DeviceTable:   pick(m.DeviceTable, def.DeviceTable),
		DomainTable:   pick(m.DomainTable, def.DomainTable),
	}
}

// Validate rejects table names that are not plain (optionally schema-qualified) identifiers.
func (m Mapping) Validate() error {
	m = m.withDefaults()
	for _, name := range []string{m.InstanceTable, m.EventTable, m.CodeLibTable, m.AppEnvTable, m.DeviceTable, m.DomainTable} {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("sqlsource: invalid table name %q", name)
		}
	}
	return nil
}

const selectColumns = `
	c.ALARM_INST_ID, c.ALARM_CODE, c.APP_ENV_ID, c.RES_INST_ID, c.RES_INST_TYPE,
	c.ALARM_STATE, c.ALARM_LEVEL, c.TOTAL_ALARM, c.CREATE_DATE,
	c.RESET_DATE, c.CLEAR_DATE, c.CONFIRM_DATE, c.CLEAR_REASON,
	e.EVENT_INST_ID, e.EVENT_TIME, e.CREATE_DATE, e.DETAIL_INFO, e.RESET_FLAG,
	e.TASK_TYPE, e.TASK_ID,
	e.DATA_1, e.DATA_2, e.DATA_3, e.DATA_4, e.DATA_5,
	e.DATA_6, e.DATA_7, e.DATA_8, e.DATA_9, e.DATA_10,
	acl.ALARM_NAME, acl.ALARM_TYPE_NAME, acl.ALARM_LEVEL, acl.FAULT_REASON, acl.DEAL_SUGGEST,
	d.DEVICE_ID, d.DEVICE_NAME, d.IP_ADDR, d.DEVICE_MODEL,
	ae.APP_NAME, sd.DOMAIN_NAME,
	CASE sd.DOMAIN_TYPE
		WHEN 'A' THEN 'Production'
		WHEN 'T' THEN 'Test'
		WHEN 'D' THEN 'DR'
		ELSE 'Unknown'
	END`

// fromClause joins the latest event of each instance (highest event id for the
// same alarm code, app env and resource) and the reference tables.
func fromClause(m Mapping) string {
	return fmt.Sprintf(`
FROM %[1]s c
LEFT JOIN %[2]s e ON e.EVENT_INST_ID = (
	SELECT MAX(e2.EVENT_INST_ID) FROM %[2]s e2
	WHERE e2.ALARM_CODE = c.ALARM_CODE
	  AND e2.APP_ENV_ID = c.APP_ENV_ID
	  AND e2.RES_INST_ID = c.RES_INST_ID
)
LEFT JOIN %[3]s acl ON c.ALARM_CODE = acl.ALARM_CODE
LEFT JOIN %[4]s ae ON c.APP_ENV_ID = ae.APP_ENV_ID
LEFT JOIN %[5]s d ON ae.DEVICE_ID = d.DEVICE_ID
LEFT JOIN %[6]s sd ON ae.SYS_DOMAIN_ID = sd.DOMAIN_ID`,
		m.InstanceTable, m.EventTable, m.CodeLibTable, m.AppEnvTable, m.DeviceTable, m.DomainTable)
}

type queries struct {
	dialect sqldb.Dialect
	from    string
	ping    string
}

func newQueries(d sqldb.Dialect, m Mapping) (queries, error) {
	if err := m.Validate(); err != nil {
		return queries{}, err
	}
	m = m.withDefaults()
	return queries{
		dialect: d,
		from:    fromClause(m),
		ping:    "SELECT COUNT(*) FROM " + m.InstanceTable + " WHERE 1 = 0",
	}, nil
}

func (q queries) active(limit int) string {
	return q.dialect.Rebind(`SELECT` + selectColumns + q.from + `
WHERE c.ALARM_STATE = 'U' AND COALESCE(e.CREATE_DATE, c.CREATE_DATE) > $1 AND c.ALARM_INST_ID > $2
ORDER BY c.ALARM_INST_ID ASC
` + q.dialect.Limit(limit))
}

func (q queries) byIDs(count int) string {
	return q.dialect.Rebind(`SELECT` + selectColumns + q.from + `
WHERE c.ALARM_INST_ID IN (` + q.dialect.Placeholders(1, count) + `)
ORDER BY c.ALARM_INST_ID ASC`)
}
