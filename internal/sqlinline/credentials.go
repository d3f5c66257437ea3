package sqlinline

const QListActiveCredentials = `--sql 14037495-2927-4c14-bc4d-8450e54e0d97
select
  id::text,
  label,
  secret,
  active,
  coalesce(last_used_at, 'epoch'::timestamptz),
  usage_count,
  created_at
from provider_credentials
where active
order by created_at asc;
`

const QListCredentials = `--sql 1d047911-d445-4812-b4a1-dbcbbd7bd0a6
select
  id::text,
  label,
  secret,
  active,
  coalesce(last_used_at, 'epoch'::timestamptz),
  usage_count,
  created_at
from provider_credentials
order by created_at asc;
`

const QMarkCredentialUsed = `--sql 86f853cd-8f96-4792-a834-76da8798d1ed
update provider_credentials
set
  last_used_at = greatest(coalesce(last_used_at, 'epoch'::timestamptz), $2::timestamptz),
  usage_count = usage_count + 1,
  updated_at = now()
where id = $1::uuid;
`

const QInsertCredential = `--sql 8fe54dbc-974b-4384-9e29-2b2cdeb57bf5
insert into provider_credentials (id, label, secret, active, usage_count, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, true, 0, now(), now())
returning id::text;
`

const QSetCredentialActive = `--sql c17d3add-0240-4697-909c-ec132b5d0db6
update provider_credentials
set active = $2::boolean, updated_at = now()
where id = $1::uuid;
`
